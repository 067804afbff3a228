// Copyright © 2018 One Concern

package confdoc

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff renders a unified diff between two versions of a document, with 3 lines of context.
//
// An empty string means both versions are identical.
func Diff(fromName, toName string, from, to []byte) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(from)),
		B:        difflib.SplitLines(string(to)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
}

// Changes lists the entries that differ between two parsed documents, keyed by name.
//
// A missing value on either side is reported as absent.
func Changes(from, to *Document) []Change {
	before, after := from.Map(), to.Map()

	var changes []Change
	seen := make(map[string]struct{}, len(after))
	for _, p := range to.Properties() {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		old, existed := before[p.Name]
		value := after[p.Name]
		if existed && old == value {
			continue
		}
		changes = append(changes, Change{Name: p.Name, Old: old, New: value, Existed: existed, Exists: true})
	}
	for _, p := range from.Properties() {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		if _, ok := after[p.Name]; !ok {
			changes = append(changes, Change{Name: p.Name, Old: before[p.Name], Existed: true})
		}
	}
	return changes
}

// Change describes how one entry differs between two documents
type Change struct {
	Name    string
	Old     string
	New     string
	Existed bool
	Exists  bool
}
