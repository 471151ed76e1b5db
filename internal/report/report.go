// Package report publishes the run journal to a CouchDB database so the
// history of several operators can be read in one place.
package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/lherron/couchmig/internal/couch"
	"github.com/lherron/couchmig/internal/journal"
)

// DocType tags run documents
const DocType = "couchmig.run"

// Store is the part of the CouchDB API Push uses
type Store interface {
	CreateDB(ctx context.Context, db string) error
	GetDoc(ctx context.Context, db, id string, out any) error
	BulkDocs(ctx context.Context, db string, docs []any) ([]couch.BulkResult, error)
}

// History reads recorded runs
type History interface {
	Runs(ctx context.Context, limit int) ([]journal.Run, error)
	Items(ctx context.Context, runID string) ([]journal.Item, error)
}

// RunDocument is the stored form of a run
type RunDocument struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	journal.Run
	Items []journal.Item `json:"items"`
}

// DocID returns the document id for a run
func DocID(runID string) string {
	return "run:" + runID
}

// Push writes the latest limit runs of history to db, creating the
// database when needed. Existing run documents are updated in place. It
// returns the number of documents written.
func Push(ctx context.Context, store Store, history History, db string, limit int) (int, error) {
	if err := store.CreateDB(ctx, db); err != nil && !couch.IsPreconditionFailed(err) {
		return 0, fmt.Errorf("failed to create %s: %w", db, err)
	}

	runs, err := history.Runs(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(runs) == 0 {
		return 0, nil
	}

	docs := make([]any, 0, len(runs))
	for _, run := range runs {
		items, err := history.Items(ctx, run.ID)
		if err != nil {
			return 0, err
		}
		doc := RunDocument{
			ID:    DocID(run.ID),
			Type:  DocType,
			Run:   run,
			Items: items,
		}

		var existing struct {
			Rev string `json:"_rev"`
		}
		err = store.GetDoc(ctx, db, doc.ID, &existing)
		switch {
		case err == nil:
			doc.Rev = existing.Rev
		case !couch.IsNotFound(err):
			return 0, fmt.Errorf("failed to read %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}

	results, err := store.BulkDocs(ctx, db, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to write runs to %s: %w", db, err)
	}

	var errs []error
	written := 0
	for _, r := range results {
		if r.Error != "" {
			errs = append(errs, fmt.Errorf("%s: %s: %s", r.ID, r.Error, r.Reason))
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}
