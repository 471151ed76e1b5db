package cursor

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfScope is returned when a cursor names a database outside the scope.
	ErrOutOfScope = errors.New("database is out of scope")

	// ErrNotFound is returned when the cursor database is missing from the list.
	ErrNotFound = errors.New("resume database not found")
)

// Scope reports whether a database name belongs to the scope being iterated.
type Scope interface {
	InScope(name string) bool
}

// Cursor marks the last processed database of a previous run. Iteration
// resumes strictly after it.
type Cursor struct {
	After string
}

// New validates after against the scope and returns a cursor for it.
// An empty after yields a nil cursor, which Tail treats as "from the start".
func New(s Scope, after string) (*Cursor, error) {
	if after == "" {
		return nil, nil
	}
	if !s.InScope(after) {
		return nil, fmt.Errorf("%w: resume database %q", ErrOutOfScope, after)
	}
	return &Cursor{After: after}, nil
}

// Tail returns the items of sorted that come strictly after the cursor.
// A nil cursor returns sorted unchanged.
func (c *Cursor) Tail(sorted []string) ([]string, error) {
	if c == nil {
		return sorted, nil
	}

	for i, name := range sorted {
		if name == c.After {
			tail := make([]string, len(sorted)-i-1)
			copy(tail, sorted[i+1:])
			return tail, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, c.After)
}

// String returns the cursor position, or an empty string for a nil cursor.
func (c *Cursor) String() string {
	if c == nil {
		return ""
	}
	return c.After
}
