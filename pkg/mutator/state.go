// Copyright © 2018 One Concern

package mutator

// State of a remote path within a session
type State int

const (
	// Clean paths have no backup: the session never changed them, or restored them
	Clean State = iota
	// Mutated paths have a backup that Restore pushes back
	Mutated
	// Indeterminate paths had a push whose outcome is unknown
	Indeterminate
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Mutated:
		return "mutated"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}
