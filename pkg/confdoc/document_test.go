// Copyright © 2018 One Concern

package confdoc

import (
	"strings"
	"testing"

	"github.com/oneconcern/remoteconf/internal/rand"
	"github.com/oneconcern/remoteconf/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<?xml version="1.0"?>
<!-- lens server overrides -->
<configuration>
	<property><name>a</name><value>1</value></property>
	<property>
		<name>b</name>
		<value>2</value>
		<description>kept as is</description>
	</property>
</configuration>`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "configuration", d.RootTag())
	assert.Equal(t, []Property{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, d.Properties())

	v, ok := d.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = d.Get("c")
	assert.False(t, ok)
}

func TestParseJobConf(t *testing.T) {
	d, err := Parse([]byte(`<conf><property><name>mapreduce.job.priority</name><value>HIGH</value></property></conf>`))
	require.NoError(t, err)
	v, ok := d.Get("mapreduce.job.priority")
	require.True(t, ok)
	assert.Equal(t, "HIGH", v)
}

func TestParseNestedRoot(t *testing.T) {
	d, err := Parse([]byte(`<envelope><configuration><property><name>a</name><value>1</value></property></configuration></envelope>`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, d.Map())
}

func TestParseInvalid(t *testing.T) {
	for _, content := range []string{
		"",
		"not xml at all",
		"<configuration><property>",
		"<properties><property><name>a</name><value>1</value></property></properties>",
	} {
		_, err := Parse([]byte(content))
		require.Error(t, err, content)
		assert.True(t, errors.Is(err, ErrInvalidDocument), content)
	}
}

func TestRewrite(t *testing.T) {
	in := []byte(`<configuration><property><name>a</name><value>1</value></property><property><name>b</name><value>2</value></property></configuration>`)
	out, err := Rewrite(in, NewOverrides().Set("b", "3").Set("c", "4"))
	require.NoError(t, err)

	expected := `<configuration>
  <property>
    <name>a</name>
    <value>1</value>
  </property>
  <property>
    <name>b</name>
    <value>3</value>
  </property>
  <property>
    <name>c</name>
    <value>4</value>
  </property>
</configuration>
`
	assert.Equal(t, expected, string(out))

	d, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, d.Map())
}

func TestRewriteKeepsDocumentAround(t *testing.T) {
	out, err := Rewrite([]byte(sample), NewOverrides().Set("a", "x"))
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, `<?xml version="1.0"?>`))
	assert.Contains(t, s, "<!-- lens server overrides -->")
	assert.Contains(t, s, "<description>kept as is</description>")
	assert.True(t, strings.Index(s, "<name>b</name>") < strings.Index(s, "<name>a</name>"), "overridden entries move to the end")
}

func TestRewriteRemovesDuplicates(t *testing.T) {
	in := []byte(`<configuration>
<property><name>a</name><value>1</value></property>
<property><name>dup</name><value>x</value></property>
<property><name>b</name><value>2</value></property>
<property><name> dup </name><value>y</value></property>
</configuration>`)

	out, err := Rewrite(in, NewOverrides().Set("dup", "z"))
	require.NoError(t, err)

	d, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []Property{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}, {Name: "dup", Value: "z"}}, d.Properties())
}

func TestRewriteEscaping(t *testing.T) {
	out, err := Rewrite([]byte(`<configuration/>`), NewOverrides().Set("q", `a < b && c > "d"`).Set("blank", "  "))
	require.NoError(t, err)
	assert.Contains(t, string(out), "&lt;")

	d, err := Parse(out)
	require.NoError(t, err)
	v, _ := d.Get("q")
	assert.Equal(t, `a < b && c > "d"`, v)
	v, _ = d.Get("blank")
	assert.Equal(t, "  ", v)
}

func TestRewriteCarriageReturn(t *testing.T) {
	out, err := Rewrite([]byte(sample), NewOverrides().Set("k", "line1\r\nline2"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "line1&#xD;\nline2")

	d, err := Parse(out)
	require.NoError(t, err)
	v, ok := d.Get("k")
	require.True(t, ok)
	assert.Equal(t, "line1\r\nline2", v)
}

func TestRewriteKeepsCData(t *testing.T) {
	in := `<configuration><property><name>x</name><value><![CDATA[<raw> & "quoted"]]></value></property>` +
		`<property><name>a</name><value>0</value></property></configuration>`
	out, err := Rewrite([]byte(in), NewOverrides().Set("a", "1"))
	require.NoError(t, err)
	assert.Contains(t, string(out), `<value><![CDATA[<raw> & "quoted"]]></value>`)

	d, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"x": `<raw> & "quoted"`, "a": "1"}, d.Map())
}

func TestRewriteInvalidCharacters(t *testing.T) {
	in := []byte(sample)
	_, err := Rewrite(in, NewOverrides().Set("a", "bell\x07"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerializeFailed))

	_, err = Rewrite(in, NewOverrides().Set("a", "\xff\xfe"))
	assert.True(t, errors.Is(err, ErrSerializeFailed))

	_, err = Rewrite(in, NewOverrides().Set("  ", "x"))
	assert.True(t, errors.Is(err, ErrSerializeFailed))
}

func TestApplyValidatesFirst(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)

	err = d.Apply(NewOverrides().Set("a", "ok").Set("b", "\x00"))
	require.Error(t, err)
	assert.Equal(t, []Property{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}, d.Properties())
}

func TestRewriteIsStable(t *testing.T) {
	o := NewOverrides().Set("b", "3")
	once, err := Rewrite([]byte(sample), o)
	require.NoError(t, err)
	twice, err := Rewrite(once, o)
	require.NoError(t, err)
	assert.Equal(t, string(once), string(twice))
}

// TestRewriteProperties checks, over random documents, that overridden keys appear exactly once
// with their new value, and that other entries keep their values and relative order.
func TestRewriteProperties(t *testing.T) {
	for i := 0; i < 50; i++ {
		pairs := rand.Pairs(1+rand.Intn(30), true)
		in := rand.Document(pairs)

		o := NewOverrides()
		for j := 0; j < 1+rand.Intn(5); j++ {
			if rand.Intn(2) == 0 {
				o.Set(pairs[rand.Intn(len(pairs))].Name, rand.Value())
			} else {
				o.Set(rand.Key(), rand.Value())
			}
		}

		out, err := Rewrite(in, o)
		require.NoError(t, err)
		d, err := Parse(out)
		require.NoError(t, err)

		counts := make(map[string]int)
		for _, p := range d.Properties() {
			counts[p.Name]++
		}
		for _, k := range o.Keys() {
			assert.Equal(t, 1, counts[k], "key %q", k)
			expected, _ := o.Get(k)
			v, _ := d.Get(k)
			assert.Equal(t, expected, v, "key %q", k)
		}

		var untouched []Property
		for _, p := range pairs {
			if !o.Has(p.Name) {
				untouched = append(untouched, Property{Name: p.Name, Value: p.Value})
			}
		}
		props := d.Properties()
		require.Len(t, props, len(untouched)+o.Len())
		if len(untouched) > 0 {
			assert.Equal(t, untouched, props[:len(untouched)])
		}
		assert.Equal(t, o.Properties(), props[len(untouched):])
	}
}
