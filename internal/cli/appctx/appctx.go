// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logging, journal opening, and orchestrator
// wiring to reduce boilerplate across commands.
package appctx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lherron/couchmig/internal/config"
	"github.com/lherron/couchmig/internal/events"
	"github.com/lherron/couchmig/internal/journal"
	"github.com/lherron/couchmig/internal/logging"
	"github.com/lherron/couchmig/internal/metrics"
	"github.com/lherron/couchmig/internal/migrate"
	"github.com/lherron/couchmig/internal/render"
	"github.com/lherron/couchmig/internal/webhooks"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration with flag overrides applied
	Config *config.Config

	Logger *logrus.Logger

	// Journal is the run history (nil if NeedsJournal is false)
	Journal *journal.Journal

	// Orchestrator is nil if NeedsOrchestrator is false
	Orchestrator *migrate.Orchestrator

	// Format is the output format for listings
	Format render.Format

	// Porcelain renders tables tab-separated and JSON unindented
	Porcelain bool

	metricsServer *metrics.Server
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.WithError(err).Warn("failed to stop metrics server")
		}
		a.metricsServer = nil
	}
	if a.Journal != nil {
		a.Journal.Close()
		a.Journal = nil
	}
}

// Renderer returns a renderer for the configured output format.
func (a *App) Renderer(w io.Writer) *render.Renderer {
	return render.NewRenderer(w, render.Options{Format: a.Format, Porcelain: a.Porcelain})
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsJournal opens the run journal.
	NeedsJournal bool

	// NeedsOrchestrator validates the scope and builds the orchestrator.
	NeedsOrchestrator bool
}

// DefaultOptions returns options for migration commands (journal and
// orchestrator).
func DefaultOptions() Options {
	return Options{
		NeedsJournal:      true,
		NeedsOrchestrator: true,
	}
}

// JournalOnly returns options for commands that only read history.
func JournalOnly() Options {
	return Options{NeedsJournal: true}
}

// ScopeOnly returns options for read-only scope queries.
func ScopeOnly() Options {
	return Options{NeedsOrchestrator: true}
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// Resources are released automatically when the wrapped function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	app.Config = cfg

	app.Format, err = render.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flag("porcelain"); f != nil && f.Changed {
		app.Porcelain = f.Value.String() == "true"
	}

	app.Logger, err = logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	if opts.NeedsJournal {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		app.Journal = j
	}

	if opts.NeedsOrchestrator {
		if err := cfg.Validate(); err != nil {
			app.Close()
			return nil, err
		}

		collector := metrics.NewCollector()
		if cfg.MetricsAddr != "" {
			srv := metrics.NewServer(cfg.MetricsAddr)
			if err := srv.Start(); err != nil {
				app.Close()
				return nil, fmt.Errorf("failed to start metrics server: %w", err)
			}
			app.metricsServer = srv
			app.Logger.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
		}

		mcfg := migrate.Config{
			Host:          cfg.Host,
			Prefix:        cfg.Prefix,
			SanitizeRoles: cfg.SanitizeRoles,
			Sink:          consoleSink(cmd, app.Format, app.Porcelain),
			Logger:        app.Logger,
			Metrics:       collector,
		}
		if app.Journal != nil {
			mcfg.Recorder = app.Journal
		}
		if len(cfg.WebhookURLs) > 0 {
			mcfg.OnFinish = webhooks.New(cfg.WebhookURLs, app.Logger).Notify
		}

		o, err := migrate.New(mcfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Orchestrator = o
	}

	return app, nil
}

// consoleSink prints events to stdout, or to stderr when stdout carries
// machine-readable output.
func consoleSink(cmd *cobra.Command, format render.Format, porcelain bool) events.Sink {
	if format == render.FormatTable && !porcelain {
		return render.NewConsole(cmd.OutOrStdout())
	}
	return render.NewConsole(cmd.ErrOrStderr())
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	str := func(name string, dst *string) {
		if f := cmd.Flag(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	str("host", &cfg.Host)
	str("prefix", &cfg.Prefix)
	str("newprefix", &cfg.NewPrefix)
	str("journal", &cfg.JournalPath)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("metrics-addr", &cfg.MetricsAddr)
	str("output", &cfg.Output)

	if f := cmd.Flag("json"); f != nil && f.Changed && f.Value.String() == "true" {
		cfg.Output = string(render.FormatJSON)
	}
	if f := cmd.Flag("sanitize-roles"); f != nil && f.Changed {
		cfg.SanitizeRoles = f.Value.String() == "true"
	}
	if f := cmd.Flag("progress-interval"); f != nil && f.Changed {
		if d, err := time.ParseDuration(f.Value.String()); err == nil {
			cfg.ProgressInterval = d
		}
	}
}
