// Package rand generates random configuration data for tests
package rand

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

var (
	onceSource sync.Once
	rgen       *rand.Rand
	randMutex  sync.Mutex
)

const letters = "abcdefghijklmnopqrstuvwxyz0123456789"

func seed() {
	src := rand.NewSource(time.Now().UnixNano())
	rgen = rand.New(src) // #nosec
}

// Intn returns a random int in [0,n)
func Intn(n int) int {
	onceSource.Do(seed)
	randMutex.Lock()
	defer randMutex.Unlock()
	return rgen.Intn(n)
}

// LetterString returns a random string picked in the [0-9]|[a-z] range
func LetterString(n int) string {
	onceSource.Do(seed)
	buf := make([]byte, n)
	randMutex.Lock()
	for i := range buf {
		buf[i] = letters[rgen.Intn(len(letters))]
	}
	randMutex.Unlock()
	return string(buf)
}

// Key returns a random dotted property name, such as "lens.abc.def"
func Key() string {
	parts := []string{"lens"}
	for i := 0; i < 1+Intn(3); i++ {
		parts = append(parts, LetterString(1+Intn(8)))
	}
	return strings.Join(parts, ".")
}

// Value returns a random property value, occasionally with characters requiring XML escaping
func Value() string {
	switch Intn(5) {
	case 0:
		return ""
	case 1:
		return LetterString(4) + " & <" + LetterString(3) + ">"
	default:
		return LetterString(1 + Intn(20))
	}
}

// Pair is a random name/value entry
type Pair struct {
	Name  string
	Value string
}

// Pairs returns n random entries. Names may repeat when dups is true.
func Pairs(n int, dups bool) []Pair {
	pairs := make([]Pair, 0, n)
	for i := 0; i < n; i++ {
		name := Key()
		if dups && i > 0 && Intn(4) == 0 {
			name = pairs[Intn(i)].Name
		}
		pairs = append(pairs, Pair{Name: name, Value: Value()})
	}
	return pairs
}

// Document renders entries as a configuration document with irregular formatting
func Document(pairs []Pair) []byte {
	var buf bytes.Buffer
	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\r\n")
	buf.WriteString("<!-- generated -->\r\n<configuration>\r\n")
	for _, p := range pairs {
		indent := strings.Repeat(" ", Intn(5))
		if Intn(2) == 0 {
			indent = "\t"
		}
		fmt.Fprintf(&buf, "%s<property><name>%s</name><value>%s</value></property>\r\n", indent, escape(p.Name), escape(p.Value))
	}
	buf.WriteString("</configuration>")
	return buf.Bytes()
}

func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}
