package scope

import (
	"context"
	"fmt"
	"sort"

	"github.com/lherron/couchmig/internal/cursor"
	"github.com/lherron/couchmig/internal/events"
)

// Lister lists every database on a server
type Lister interface {
	AllDBs(ctx context.Context) ([]string, error)
}

// ListOptions narrows a scope listing
type ListOptions struct {
	// After resumes strictly after this database
	After string

	// Skip removes these databases from the result
	Skip []string
}

// Resolver produces the ordered list of in-scope databases
type Resolver struct {
	Scope
	events *events.Emitter
}

// NewResolver creates a resolver for prefix emitting to sink
func NewResolver(prefix string, sink events.Sink) *Resolver {
	return &Resolver{
		Scope:  Scope{Prefix: prefix},
		events: events.NewEmitter(sink),
	}
}

// List fetches all databases, keeps the in-scope ones sorted ascending, and
// applies the resume cursor and skip list. Cursor and skip names are
// validated before any I/O.
func (r *Resolver) List(ctx context.Context, lister Lister, opts ListOptions) ([]string, error) {
	c, err := cursor.New(r.Scope, opts.After)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(opts.Skip))
	for _, name := range opts.Skip {
		if !r.InScope(name) {
			return nil, fmt.Errorf("%w: skip database %q", ErrOutOfScope, name)
		}
		skip[name] = true
	}

	r.events.Start("Fetch db list")

	all, err := lister.AllDBs(ctx)
	if err != nil {
		err = fmt.Errorf("failed to list databases: %w", err)
		r.events.Fail(err)
		return nil, err
	}

	// no assurance the store returns them sorted
	list := r.Filter(all)
	sort.Strings(list)

	list, err = c.Tail(list)
	if err != nil {
		r.events.Fail(err)
		return nil, err
	}

	if len(skip) > 0 {
		kept := list[:0]
		for _, name := range list {
			if !skip[name] {
				kept = append(kept, name)
			}
		}
		list = kept
	}

	r.events.End("Done")
	return list, nil
}
