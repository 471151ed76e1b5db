package cursor

import (
	"errors"
	"strings"
	"testing"
)

type prefixScope string

func (p prefixScope) InScope(name string) bool {
	return strings.HasPrefix(name, string(p))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		after   string
		wantNil bool
		wantErr error
	}{
		{name: "empty cursor", after: "", wantNil: true},
		{name: "in scope", after: "my-test-1"},
		{name: "out of scope", after: "my-nottest-3", wantErr: ErrOutOfScope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(prefixScope("my-test-"), tt.after)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if tt.wantNil && c != nil {
				t.Errorf("expected nil cursor, got %+v", c)
			}
			if !tt.wantNil && c.String() != tt.after {
				t.Errorf("expected cursor at %s, got %s", tt.after, c.String())
			}
		})
	}
}

func TestTail(t *testing.T) {
	sorted := []string{"my-test-1", "my-test-2", "my-test-4"}

	tests := []struct {
		name     string
		after    string
		expected []string
	}{
		{name: "first", after: "my-test-1", expected: []string{"my-test-2", "my-test-4"}},
		{name: "middle", after: "my-test-2", expected: []string{"my-test-4"}},
		{name: "last", after: "my-test-4", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Cursor{After: tt.after}
			tail, err := c.Tail(sorted)
			if err != nil {
				t.Fatalf("Tail failed: %v", err)
			}
			if len(tail) != len(tt.expected) {
				t.Fatalf("expected %v, got %v", tt.expected, tail)
			}
			for i := range tail {
				if tail[i] != tt.expected[i] {
					t.Errorf("tail[%d] mismatch: got %s, want %s", i, tail[i], tt.expected[i])
				}
			}
		})
	}
}

func TestTailNilCursor(t *testing.T) {
	var c *Cursor
	sorted := []string{"a", "b"}

	tail, err := c.Tail(sorted)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("expected full list, got %v", tail)
	}
}

func TestTailNotFound(t *testing.T) {
	c := &Cursor{After: "my-test-3"}

	_, err := c.Tail([]string{"my-test-1", "my-test-2"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "resume database not found") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestTailDoesNotAliasInput(t *testing.T) {
	sorted := []string{"a", "b", "c"}
	c := &Cursor{After: "a"}

	tail, err := c.Tail(sorted)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	tail[0] = "changed"

	if sorted[1] != "b" {
		t.Error("Tail result shares storage with the input slice")
	}
}
