package rand

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLetterString(t *testing.T) {
	s := LetterString(20)
	assert.Len(t, s, 20)
	assert.Empty(t, strings.Trim(s, letters))
}

func TestPairs(t *testing.T) {
	pairs := Pairs(50, false)
	assert.Len(t, pairs, 50)
	for _, p := range pairs {
		assert.True(t, strings.HasPrefix(p.Name, "lens."))
	}
}

func TestDocument(t *testing.T) {
	doc := string(Document([]Pair{{Name: "a", Value: "x & <y>"}}))
	assert.Contains(t, doc, "<name>a</name><value>x &amp; &lt;y&gt;</value>")
	assert.True(t, strings.HasSuffix(doc, "</configuration>"))
}
