// Copyright © 2018 One Concern

// Package confdoc reads and rewrites key/value configuration documents.
//
// Documents follow the Hadoop convention:
//
//	<configuration>
//	  <property>
//	    <name>key</name>
//	    <value>value</value>
//	  </property>
//	</configuration>
//
// Rewriting removes every entry whose name is overridden, then appends one entry per override.
// Untouched entries, comments and the XML declaration are kept in their original order.
package confdoc

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/beevik/etree"
	"github.com/oneconcern/remoteconf/pkg/errors"
)

const (
	// IndentSpaces is the indentation used when serializing
	IndentSpaces = 2

	propertyTag = "property"
	nameTag     = "name"
	valueTag    = "value"
)

// DefaultRootTags are the element names accepted as the document container
var DefaultRootTags = []string{"configuration", "conf"}

var (
	// ErrInvalidDocument is returned when the content cannot be parsed or has no container element
	ErrInvalidDocument = errors.New("invalid configuration document")

	// ErrSerializeFailed is returned when the mutated document cannot be written back
	ErrSerializeFailed = errors.New("cannot serialize configuration document")

	// ErrInvalidOverride is returned for malformed override expressions
	ErrInvalidOverride = errors.New("invalid override")
)

// Property is one name/value entry
type Property struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Document is a parsed configuration document.
//
// Documents are built fresh from bytes and are not safe for concurrent use.
type Document struct {
	doc  *etree.Document
	root *etree.Element
}

// Parse reads a configuration document, accepting any of DefaultRootTags as container
func Parse(content []byte) (*Document, error) {
	return ParseWithRoot(content, DefaultRootTags...)
}

// ParseWithRoot reads a configuration document whose container is one of rootTags
func ParseWithRoot(content []byte, rootTags ...string) (*Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.PreserveCData = true
	if err := doc.ReadFromBytes(content); err != nil {
		return nil, ErrInvalidDocument.Wrap(err)
	}

	root := findRoot(doc, rootTags)
	if root == nil {
		return nil, ErrInvalidDocument.Wrapf("no <%s> element found", strings.Join(rootTags, "> or <"))
	}
	return &Document{doc: doc, root: root}, nil
}

func findRoot(doc *etree.Document, rootTags []string) *etree.Element {
	top := doc.Root()
	if top == nil {
		return nil
	}
	for _, tag := range rootTags {
		if top.Tag == tag {
			return top
		}
	}
	for _, tag := range rootTags {
		if el := top.FindElement(".//" + tag); el != nil {
			return el
		}
	}
	return nil
}

// RootTag is the name of the container element
func (d *Document) RootTag() string {
	return d.root.Tag
}

func (d *Document) propertyElements() []*etree.Element {
	return d.root.SelectElements(propertyTag)
}

func propertyOf(el *etree.Element) Property {
	var p Property
	if n := el.SelectElement(nameTag); n != nil {
		p.Name = strings.TrimSpace(n.Text())
	}
	if v := el.SelectElement(valueTag); v != nil {
		p.Value = v.Text()
	}
	return p
}

// Properties lists entries in document order, duplicates included
func (d *Document) Properties() []Property {
	elements := d.propertyElements()
	props := make([]Property, 0, len(elements))
	for _, el := range elements {
		props = append(props, propertyOf(el))
	}
	return props
}

// Get returns the value of the last entry named key
func (d *Document) Get(key string) (string, bool) {
	var (
		value string
		found bool
	)
	for _, p := range d.Properties() {
		if p.Name == key {
			value, found = p.Value, true
		}
	}
	return value, found
}

// Map folds entries into a map, the last entry winning on duplicate names
func (d *Document) Map() map[string]string {
	m := make(map[string]string)
	for _, p := range d.Properties() {
		m[p.Name] = p.Value
	}
	return m
}

// Apply removes all entries named by an override, then appends the overrides in order.
//
// Overrides are validated first: on error the document is left unchanged.
func (d *Document) Apply(o *Overrides) error {
	for _, p := range o.Properties() {
		if err := validateText(p.Name); err != nil || strings.TrimSpace(p.Name) == "" {
			return ErrSerializeFailed.Wrapf("invalid property name %q", p.Name)
		}
		if err := validateText(p.Value); err != nil {
			return ErrSerializeFailed.Wrapf("invalid value for %q: %v", p.Name, err)
		}
	}

	for _, el := range d.propertyElements() {
		if o.Has(propertyOf(el).Name) {
			d.root.RemoveChild(el)
		}
	}

	for _, p := range o.Properties() {
		el := d.root.CreateElement(propertyTag)
		el.CreateElement(nameTag).SetText(p.Name)
		el.CreateElement(valueTag).SetText(p.Value)
	}
	return nil
}

// Bytes serializes the document with a stable 2-space indentation and a trailing newline
func (d *Document) Bytes() ([]byte, error) {
	settings := etree.NewIndentSettings()
	settings.Spaces = IndentSpaces
	settings.PreserveLeafWhitespace = true
	d.doc.IndentWithSettings(settings)
	// a raw CR would be read back as LF
	d.doc.WriteSettings.CanonicalText = true
	b, err := d.doc.WriteToBytes()
	if err != nil {
		return nil, ErrSerializeFailed.Wrap(err)
	}
	if !bytes.HasSuffix(b, []byte("\n")) {
		b = append(b, '\n')
	}
	return b, nil
}

// Rewrite parses content, applies overrides and serializes the result
func Rewrite(content []byte, o *Overrides) ([]byte, error) {
	d, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if err = d.Apply(o); err != nil {
		return nil, err
	}
	return d.Bytes()
}

// validateText checks that s only holds characters allowed by XML 1.0
func validateText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8")
	}
	for i, r := range s {
		if !isXMLChar(r) {
			return fmt.Errorf("character %U at offset %d is not allowed in XML", r, i)
		}
	}
	return nil
}

func isXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}
