package bulk

import (
	"context"
	"fmt"
	"io"
)

// Operation represents a bulk operation configuration
type Operation struct {
	// ContinueOnError records item failures and moves on instead of
	// stopping at the first one
	ContinueOnError bool

	// OnItemDone is called after every item with its error, if any
	OnItemDone func(item string, err error)
}

// Result represents the result of a bulk operation
type Result[R any] struct {
	TotalItems int
	Succeeded  int
	Failed     int
	Values     []R
	Errors     []ItemError
}

// ItemError represents an error for a specific item
type ItemError struct {
	Item  string
	Error error
}

// ItemFunc is the function to execute for each item
type ItemFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Execute processes items one at a time, in order. Values holds one entry
// per processed item, in input order (the zero value for failed items).
//
// Without ContinueOnError the first item error stops the run and is
// returned. A cancelled context stops the run before the next item and
// returns the context error.
func Execute[T, R any](ctx context.Context, op Operation, items []T, fn ItemFunc[T, R]) (*Result[R], error) {
	result := &Result[R]{
		TotalItems: len(items),
		Values:     make([]R, 0, len(items)),
	}

	for i := 0; i < len(items); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item := items[i]
		name := fmt.Sprint(item)

		value, err := fn(ctx, item)
		result.Values = append(result.Values, value)
		if op.OnItemDone != nil {
			op.OnItemDone(name, err)
		}

		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ItemError{
				Item:  name,
				Error: err,
			})

			if !op.ContinueOnError {
				return result, fmt.Errorf("%s: %w", name, err)
			}
			continue
		}
		result.Succeeded++
	}

	return result, nil
}

// Remaining returns how many items were never processed
func (r *Result[R]) Remaining() int {
	return r.TotalItems - r.Succeeded - r.Failed
}

// ExitCode returns the appropriate exit code for the result
func (r *Result[R]) ExitCode() int {
	if r.Failed == 0 && r.Remaining() == 0 {
		return 0 // All succeeded
	}
	if r.Succeeded > 0 {
		return 5 // Partial success
	}
	return 1 // All failed
}

// PrintSummary prints a human-readable summary of the result
func (r *Result[R]) PrintSummary(w io.Writer) {
	if r.TotalItems == 0 {
		fmt.Fprintf(w, "\nNothing to do: no databases in scope\n")
		return
	}
	if r.Failed == 0 && r.Remaining() == 0 {
		fmt.Fprintf(w, "\n✓ All %d operations succeeded\n", r.TotalItems)
	} else if r.Succeeded == 0 {
		fmt.Fprintf(w, "\n✗ No operation succeeded (%d failed, %d not run, out of %d)\n",
			r.Failed, r.Remaining(), r.TotalItems)
	} else {
		fmt.Fprintf(w, "\n⚠ Partial success: %d succeeded, %d failed, %d not run (out of %d)\n",
			r.Succeeded, r.Failed, r.Remaining(), r.TotalItems)
	}

	if len(r.Errors) > 0 && len(r.Errors) <= 10 {
		fmt.Fprintf(w, "\nErrors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
		}
	} else if len(r.Errors) > 10 {
		fmt.Fprintf(w, "\nShowing first 10 errors (of %d):\n", len(r.Errors))
		for _, e := range r.Errors[:10] {
			fmt.Fprintf(w, "  %s: %v\n", e.Item, e.Error)
		}
	}
}
