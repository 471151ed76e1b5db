package journal_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lherron/couchmig/internal/couch/couchtest"
	"github.com/lherron/couchmig/internal/journal"
	"github.com/lherron/couchmig/internal/migrate"
	"github.com/lherron/couchmig/internal/testutil"
)

func begin(t *testing.T, j *journal.Journal, id, op, after string) {
	t.Helper()
	info := migrate.RunInfo{Op: op, Prefix: "my-test-", Host: "http://localhost:5984", After: after}
	if err := j.BeginRun(context.Background(), id, info); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
}

func record(t *testing.T, j *journal.Journal, id string, seq int, db string, err error) {
	t.Helper()
	if e := j.RecordItem(context.Background(), id, seq, db, err); e != nil {
		t.Fatalf("RecordItem failed: %v", e)
	}
}

func finish(t *testing.T, j *journal.Journal, id, status string, total, ok, failed int) {
	t.Helper()
	summary := migrate.RunSummary{ID: id, Status: status, Total: total, Succeeded: ok, Failed: failed, FinishedAt: time.Now()}
	if err := j.FinishRun(context.Background(), summary); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
}

func TestOpenMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "journal.db")
	j, err := journal.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer j.Close()

	if j.Path() != path {
		t.Errorf("Expected path %s, got %s", path, j.Path())
	}
	runs, err := j.Runs(context.Background(), 10)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected no runs, got %d", len(runs))
	}
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	j := testutil.TempJournal(t)

	begin(t, j, "run-1", migrate.OpReplicate, "")
	record(t, j, "run-1", 1, "my-test-1", nil)
	record(t, j, "run-1", 2, "my-test-2", errors.New("replication crashed"))
	finish(t, j, "run-1", migrate.StatusPartial, 2, 1, 1)

	runs, err := j.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}
	r := runs[0]
	if r.Status != migrate.StatusPartial || r.Succeeded != 1 || r.Failed != 1 || r.Total != 2 {
		t.Errorf("Unexpected run: %+v", r)
	}
	if r.FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}
	if r.StartedAt.IsZero() {
		t.Error("Expected started_at to be set")
	}

	items, err := j.Items(ctx, "run-1")
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].DB != "my-test-1" || items[0].Status != journal.ItemSuccess || items[0].Error != "" {
		t.Errorf("Unexpected first item: %+v", items[0])
	}
	if items[1].Status != journal.ItemError || items[1].Error != "replication crashed" {
		t.Errorf("Unexpected second item: %+v", items[1])
	}
}

func TestFinishUnknownRun(t *testing.T) {
	j := testutil.TempJournal(t)

	err := j.FinishRun(context.Background(), migrate.RunSummary{ID: "missing", Status: migrate.StatusSuccess})
	if err == nil {
		t.Fatal("Expected error for unknown run")
	}
}

func TestResumePoint(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(t *testing.T, j *journal.Journal)
		op     string
		want   string
		wantOK bool
	}{
		{
			name:  "no runs",
			setup: func(t *testing.T, j *journal.Journal) {},
			op:    migrate.OpReplicate,
		},
		{
			name: "interrupted run",
			setup: func(t *testing.T, j *journal.Journal) {
				begin(t, j, "r1", migrate.OpReplicate, "")
				record(t, j, "r1", 1, "my-test-1", nil)
				record(t, j, "r1", 2, "my-test-2", nil)
			},
			op:     migrate.OpReplicate,
			want:   "my-test-2",
			wantOK: true,
		},
		{
			name: "aborted run",
			setup: func(t *testing.T, j *journal.Journal) {
				begin(t, j, "r1", migrate.OpUsers, "")
				record(t, j, "r1", 1, "my-test-1", errors.New("boom"))
				finish(t, j, "r1", migrate.StatusAborted, 3, 0, 1)
			},
			op:     migrate.OpUsers,
			want:   "my-test-1",
			wantOK: true,
		},
		{
			name: "completed run",
			setup: func(t *testing.T, j *journal.Journal) {
				begin(t, j, "r1", migrate.OpReplicate, "")
				record(t, j, "r1", 1, "my-test-1", nil)
				finish(t, j, "r1", migrate.StatusPartial, 1, 1, 0)
			},
			op: migrate.OpReplicate,
		},
		{
			name: "interrupted before first item",
			setup: func(t *testing.T, j *journal.Journal) {
				begin(t, j, "r1", migrate.OpReplicate, "my-test-4")
			},
			op:     migrate.OpReplicate,
			want:   "my-test-4",
			wantOK: true,
		},
		{
			name: "other operation",
			setup: func(t *testing.T, j *journal.Journal) {
				begin(t, j, "r1", migrate.OpUsers, "")
				record(t, j, "r1", 1, "my-test-1", nil)
			},
			op: migrate.OpReplicate,
		},
		{
			name: "only the latest run counts",
			setup: func(t *testing.T, j *journal.Journal) {
				begin(t, j, "r1", migrate.OpReplicate, "")
				record(t, j, "r1", 1, "my-test-1", nil)
				begin(t, j, "r2", migrate.OpReplicate, "")
				record(t, j, "r2", 1, "my-test-1", nil)
				finish(t, j, "r2", migrate.StatusSuccess, 1, 1, 0)
			},
			op: migrate.OpReplicate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := testutil.TempJournal(t)
			tt.setup(t, j)

			got, ok, err := j.ResumePoint(ctx, tt.op, "my-test-")
			if err != nil {
				t.Fatalf("ResumePoint failed: %v", err)
			}
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Expected (%q, %v), got (%q, %v)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestResumePointAfterInterruptedReplication(t *testing.T) {
	network := couchtest.NewNetwork()
	src, dst := network.NewServer(t), network.NewServer(t)
	src.AddDB("my-test-1", "my-test-2", "my-test-4")
	dst.SlowReplication(300*time.Millisecond, 10)

	j := testutil.TempJournal(t)
	orch, err := migrate.New(migrate.Config{Host: dst.URL, Prefix: "my-test-", Recorder: j})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	opts := migrate.ReplicateOptions{NewPrefix: "my-replica-"}

	ctx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()
	if _, err := orch.ReplicateAll(ctx, src.URL, dst.URL, opts); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}

	after, ok, err := j.ResumePoint(context.Background(), migrate.OpReplicate, "my-test-")
	if err != nil {
		t.Fatalf("ResumePoint failed: %v", err)
	}
	if !ok || after != "my-test-1" {
		t.Fatalf("Expected resume after my-test-1, got %q (ok=%v)", after, ok)
	}

	dst.SlowReplication(0, 0)
	opts.After = after
	result, err := orch.ReplicateAll(context.Background(), src.URL, dst.URL, opts)
	if err != nil {
		t.Fatalf("resumed ReplicateAll failed: %v", err)
	}
	if result.Succeeded != 2 {
		t.Errorf("Expected 2 databases replicated on resume, got %d", result.Succeeded)
	}
	for _, name := range []string{"my-replica-1", "my-replica-2", "my-replica-4"} {
		if !dst.HasDB(name) {
			t.Errorf("Expected %s on target", name)
		}
	}
	if _, ok, _ := j.ResumePoint(context.Background(), migrate.OpReplicate, "my-test-"); ok {
		t.Error("Expected nothing to resume after a complete run")
	}
}
