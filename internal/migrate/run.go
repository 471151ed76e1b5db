package migrate

import (
	"context"
	"time"

	"github.com/lherron/couchmig/internal/bulk"
)

// Operation names
const (
	OpReplicate = "replicate"
	OpUsers     = "users"
	OpRemove    = "rm"
)

// Run statuses
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusFailed  = "failed"
	StatusAborted = "aborted"
)

// RunInfo describes a top-level run
type RunInfo struct {
	Op     string `json:"op"`
	Prefix string `json:"prefix"`
	Host   string `json:"host"`
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	After  string `json:"after,omitempty"`
}

// RunSummary is the outcome of a finished run
type RunSummary struct {
	RunInfo
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	Errors     []bulk.ItemError `json:"-"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Recorder persists run history. Recording failures are logged and never
// stop a run.
type Recorder interface {
	BeginRun(ctx context.Context, id string, info RunInfo) error
	RecordItem(ctx context.Context, runID string, seq int, db string, itemErr error) error
	FinishRun(ctx context.Context, summary RunSummary) error
}
