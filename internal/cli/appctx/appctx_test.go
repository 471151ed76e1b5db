package appctx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/config"
	"github.com/lherron/couchmig/internal/couch/couchtest"
	"github.com/lherron/couchmig/internal/render"
	"github.com/lherron/couchmig/internal/scope"
)

// testCmd returns a command carrying the root's persistent flags
func testCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, name := range []string{"COUCHMIG_HOST", "COUCHMIG_PREFIX", "COUCHMIG_JOURNAL", "COUCHMIG_WEBHOOK_URLS", "COUCHMIG_OUTPUT"} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}

	cmd := &cobra.Command{}
	cmd.Flags().StringP("host", "r", "", "")
	cmd.Flags().StringP("prefix", "p", "", "")
	cmd.Flags().String("newprefix", "", "")
	cmd.Flags().String("journal", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().String("log-format", "", "")
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().StringP("output", "o", "", "")
	cmd.Flags().Bool("json", false, "")
	cmd.Flags().Bool("porcelain", false, "")
	cmd.Flags().Duration("progress-interval", 0, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestBootstrap_JournalOnly(t *testing.T) {
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	cmd := testCmd(t, "--journal", journalPath)

	app, err := Bootstrap(cmd, JournalOnly())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Journal == nil {
		t.Fatal("Journal should not be nil")
	}
	if app.Journal.Path() != journalPath {
		t.Errorf("journal path = %q, want %q", app.Journal.Path(), journalPath)
	}
	if app.Orchestrator != nil {
		t.Error("Orchestrator should be nil when NeedsOrchestrator is false")
	}
	if app.Format != render.FormatTable {
		t.Errorf("Format = %q, want table", app.Format)
	}
}

func TestBootstrap_WithOrchestrator(t *testing.T) {
	srv := couchtest.New(t)
	srv.AddDB("my-test-1", "other")
	journalPath := filepath.Join(t.TempDir(), "journal.db")
	cmd := testCmd(t, "-r", srv.URL, "-p", "my-test-", "--journal", journalPath, "--json", "--progress-interval", "3s")

	app, err := Bootstrap(cmd, DefaultOptions())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if app.Orchestrator == nil {
		t.Fatal("Orchestrator should not be nil")
	}
	if app.Orchestrator.Prefix() != "my-test-" {
		t.Errorf("Prefix = %q", app.Orchestrator.Prefix())
	}
	if app.Format != render.FormatJSON {
		t.Errorf("Format = %q, want json", app.Format)
	}
	if app.Config.ProgressInterval != 3*time.Second {
		t.Errorf("ProgressInterval = %v, want 3s", app.Config.ProgressInterval)
	}

	names, err := app.Orchestrator.List(context.Background(), scope.ListOptions{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 1 || names[0] != "my-test-1" {
		t.Errorf("unexpected scope %v", names)
	}
}

func TestBootstrap_Porcelain(t *testing.T) {
	cmd := testCmd(t, "--journal", filepath.Join(t.TempDir(), "journal.db"), "--porcelain")

	app, err := Bootstrap(cmd, JournalOnly())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	defer app.Close()

	if !app.Porcelain {
		t.Fatal("Porcelain should be set")
	}
	var buf bytes.Buffer
	if err := app.Renderer(&buf).Render(nil, []string{"ID", "OP"}, [][]string{{"r1", "rm"}}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "ID\tOP\nr1\trm\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestBootstrap_MissingPrefix(t *testing.T) {
	cmd := testCmd(t, "--journal", filepath.Join(t.TempDir(), "journal.db"))

	_, err := Bootstrap(cmd, DefaultOptions())
	if !errors.Is(err, config.ErrMissingPrefix) {
		t.Fatalf("expected ErrMissingPrefix, got %v", err)
	}
}

func TestBootstrap_InvalidOutput(t *testing.T) {
	cmd := testCmd(t, "-o", "xml")

	if _, err := Bootstrap(cmd, Options{}); err == nil {
		t.Fatal("expected error for unknown output format")
	}
}

func TestClose_Idempotent(t *testing.T) {
	cmd := testCmd(t, "--journal", filepath.Join(t.TempDir(), "journal.db"))
	app, err := Bootstrap(cmd, JournalOnly())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	app.Close()
	app.Close()
}
