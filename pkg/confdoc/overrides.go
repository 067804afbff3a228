// Copyright © 2018 One Concern

package confdoc

import (
	"sort"
	"strings"
)

// Overrides is an ordered set of property values replacing (or adding to) a document's entries.
//
// Keys are unique. Properties are appended in insertion order; setting an existing key again
// changes its value but keeps its position.
type Overrides struct {
	keys   []string
	values map[string]string
}

// NewOverrides builds an empty set of overrides
func NewOverrides() *Overrides {
	return &Overrides{values: make(map[string]string)}
}

// FromMap builds overrides from a map. Keys are ordered lexically so output is reproducible.
func FromMap(m map[string]string) *Overrides {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	o := NewOverrides()
	for _, k := range keys {
		o.Set(k, m[k])
	}
	return o
}

// ParsePairs builds overrides from "key=value" pairs, in order.
//
// Only the first '=' separates key and value, so values may contain '='.
func ParsePairs(pairs []string) (*Overrides, error) {
	o := NewOverrides()
	for _, pair := range pairs {
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 {
			return nil, ErrInvalidOverride.Wrapf("expected key=value, got %q", pair)
		}
		key := strings.TrimSpace(pair[:idx])
		if key == "" {
			return nil, ErrInvalidOverride.Wrapf("empty key in %q", pair)
		}
		o.Set(key, pair[idx+1:])
	}
	return o, nil
}

// Set adds or replaces a key
func (o *Overrides) Set(key, value string) *Overrides {
	if o.values == nil {
		o.values = make(map[string]string)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Get the override value for key
func (o *Overrides) Get(key string) (string, bool) {
	if o == nil {
		return "", false
	}
	v, ok := o.values[key]
	return v, ok
}

// Has key?
func (o *Overrides) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Len is the number of keys
func (o *Overrides) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys in insertion order
func (o *Overrides) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.keys...)
}

// Properties in insertion order
func (o *Overrides) Properties() []Property {
	props := make([]Property, 0, o.Len())
	for _, k := range o.Keys() {
		props = append(props, Property{Name: k, Value: o.values[k]})
	}
	return props
}
