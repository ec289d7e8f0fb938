// Package titles decides what to do with a generated title and normalises
// date-prefixed titles before they are used as retrieval examples.
package titles

import "strings"

// Action is the outcome of comparing a candidate title to the current one
type Action int

const (
	// Fail means generation produced no candidate at all
	Fail Action = iota
	// Warn means the candidate was empty after trimming
	Warn
	// NoOp means the candidate equals the current title
	NoOp
	// Rename means the document should get Decision.Title
	Rename
)

func (a Action) String() string {
	switch a {
	case Fail:
		return "fail"
	case Warn:
		return "warn"
	case NoOp:
		return "noop"
	case Rename:
		return "rename"
	default:
		return "unknown"
	}
}

// Decision is the result of Decide. Title is only set for Rename.
type Decision struct {
	Action Action
	Title  string
}

// Decide compares a generated candidate against the original title. A nil
// candidate means generation failed. Comparison is on trimmed values.
func Decide(original string, candidate *string) Decision {
	if candidate == nil {
		return Decision{Action: Fail}
	}
	c := strings.TrimSpace(*candidate)
	if c == "" {
		return Decision{Action: Warn}
	}
	if c == strings.TrimSpace(original) {
		return Decision{Action: NoOp}
	}
	return Decision{Action: Rename, Title: c}
}
