// Package migrate drives prefix-scoped bulk operations against CouchDB:
// replication, security and user document copies, and removal.
//
// Every top-level run lists the scope once, then processes one database at a
// time. A failure on one database is recorded and the run moves on; only
// configuration and scope errors abort a run.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lherron/couchmig/internal/bulk"
	"github.com/lherron/couchmig/internal/couch"
	"github.com/lherron/couchmig/internal/events"
	"github.com/lherron/couchmig/internal/metrics"
	"github.com/lherron/couchmig/internal/progress"
	"github.com/lherron/couchmig/internal/scope"
)

var (
	// ErrInvalidConfig is returned by New when the host or prefix is missing
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSameSourceTarget refuses an in-place replication without rename
	ErrSameSourceTarget = errors.New("source and target are the same")
)

const defaultClientCacheSize = 16

// Store is the part of the CouchDB API the orchestrator uses
type Store interface {
	AllDBs(ctx context.Context) ([]string, error)
	ActiveTasks(ctx context.Context) ([]couch.ActiveTask, error)
	Replicate(ctx context.Context, req couch.ReplicationRequest) (*couch.ReplicationResult, error)
	DestroyDB(ctx context.Context, db string) error
	GetSecurity(ctx context.Context, db string) (*couch.SecurityDocument, error)
	PutSecurity(ctx context.Context, db string, doc *couch.SecurityDocument) error
	GetUser(ctx context.Context, name string) (couch.Document, error)
	PutUser(ctx context.Context, name string, doc couch.Document) (string, error)
}

// Dialer opens a Store for a server URL
type Dialer func(host string) (Store, error)

// Config configures an Orchestrator
type Config struct {
	// Host is the server that runs replications and removals
	Host string

	// Prefix selects the databases in scope
	Prefix string

	// SanitizeRoles strips the reserved leading underscore from user roles
	// before writing user documents
	SanitizeRoles bool

	Sink     events.Sink
	Logger   logrus.FieldLogger
	Metrics  *metrics.Collector
	Recorder Recorder

	// OnFinish is called after every top-level run
	OnFinish func(ctx context.Context, summary RunSummary)

	// Dial defaults to a couch.Client per host
	Dial            Dialer
	ClientCacheSize int
}

// Orchestrator runs migrations for one scope. Top-level runs are
// serialized.
type Orchestrator struct {
	host          string
	prefix        string
	sanitizeRoles bool

	store    Store
	clients  gcache.Cache
	dial     Dialer
	tracker  *progress.Tracker
	resolver *scope.Resolver
	events   *events.Emitter
	logger   logrus.FieldLogger
	metrics  *metrics.Collector
	recorder Recorder
	onFinish func(ctx context.Context, summary RunSummary)

	mu   sync.Mutex
	memo map[string]error
}

// New validates cfg and connects to the instance host
func New(cfg Config) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("%w: missing prefix", ErrInvalidConfig)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = func(host string) (Store, error) {
			return couch.New(host, couch.WithLogger(logger))
		}
	}
	size := cfg.ClientCacheSize
	if size <= 0 {
		size = defaultClientCacheSize
	}

	o := &Orchestrator{
		host:          strings.TrimRight(cfg.Host, "/"),
		prefix:        cfg.Prefix,
		sanitizeRoles: cfg.SanitizeRoles,
		clients:       gcache.New(size).LRU().Build(),
		dial:          dial,
		resolver:      scope.NewResolver(cfg.Prefix, cfg.Sink),
		events:        events.NewEmitter(cfg.Sink),
		logger:        logger,
		metrics:       cfg.Metrics,
		recorder:      cfg.Recorder,
		onFinish:      cfg.OnFinish,
		memo:          make(map[string]error),
	}

	store, err := o.client(o.host)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	o.store = store
	o.tracker = progress.New(store, logger, cfg.Metrics)
	return o, nil
}

// Prefix returns the scope prefix
func (o *Orchestrator) Prefix() string {
	return o.prefix
}

// List returns the ordered scope on the instance host
func (o *Orchestrator) List(ctx context.Context, opts scope.ListOptions) ([]string, error) {
	return o.resolver.List(ctx, o.store, opts)
}

// ReplicationTasks returns the active replications whose source is in scope
func (o *Orchestrator) ReplicationTasks(ctx context.Context) ([]couch.ActiveTask, error) {
	tasks, err := o.store.ActiveTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tasks: %w", err)
	}
	var out []couch.ActiveTask
	for _, t := range tasks {
		if t.IsReplication() && o.resolver.InScope(t.Source) {
			out = append(out, t)
		}
	}
	return out, nil
}

// client returns the cached Store for host, dialing it on first use
func (o *Orchestrator) client(host string) (Store, error) {
	key := strings.TrimRight(host, "/")
	if v, err := o.clients.Get(key); err == nil {
		return v.(Store), nil
	}
	s, err := o.dial(key)
	if err != nil {
		return nil, err
	}
	if err := o.clients.Set(key, s); err != nil {
		return nil, err
	}
	return s, nil
}

// run lists the scope from lister and feeds it through fn one database at a
// time, recording every item.
func (o *Orchestrator) run(ctx context.Context, info RunInfo, lister scope.Lister, opts scope.ListOptions, reverse bool, fn bulk.ItemFunc[string, string]) (*bulk.Result[string], error) {
	o.memo = make(map[string]error)

	id := uuid.NewString()
	logger := o.logger.WithFields(logrus.Fields{"run_id": id, "op": info.Op})
	info.After = opts.After

	names, err := o.resolver.List(ctx, lister, opts)
	if err != nil {
		o.metrics.IncRun(info.Op, StatusAborted)
		return nil, err
	}
	if reverse {
		slices.Reverse(names)
	}

	started := time.Now()
	// journal writes outlive an interrupted run
	journalCtx := context.WithoutCancel(ctx)
	if o.recorder != nil {
		if err := o.recorder.BeginRun(journalCtx, id, info); err != nil {
			logger.WithError(err).Warn("failed to record run start")
		}
	}
	logger.WithField("count", len(names)).Info("run started")

	seq := 0
	cut := false
	op := bulk.Operation{
		ContinueOnError: true,
		OnItemDone: func(item string, itemErr error) {
			seq++
			if interrupted(ctx, itemErr) {
				cut = true
				logger.WithField("db", item).Warn("database interrupted")
				return
			}
			if itemErr != nil {
				logger.WithField("db", item).WithError(itemErr).Error("database failed")
			}
			if o.recorder == nil {
				return
			}
			if err := o.recorder.RecordItem(journalCtx, id, seq, item, itemErr); err != nil {
				logger.WithField("db", item).WithError(err).Warn("failed to record item")
			}
		},
	}
	timed := func(ctx context.Context, name string) (string, error) {
		start := time.Now()
		value, err := fn(ctx, name)
		o.metrics.ObserveItem(info.Op, err, time.Since(start))
		return value, err
	}

	result, runErr := bulk.Execute(ctx, op, names, timed)
	if runErr == nil && cut {
		// the last item was the one cut short
		runErr = ctx.Err()
	}

	summary := RunSummary{
		ID:         id,
		RunInfo:    info,
		Status:     status(result, runErr),
		Total:      result.TotalItems,
		Succeeded:  result.Succeeded,
		Failed:     result.Failed,
		Errors:     result.Errors,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if o.recorder != nil {
		if err := o.recorder.FinishRun(journalCtx, summary); err != nil {
			logger.WithError(err).Warn("failed to record run end")
		}
	}
	o.metrics.IncRun(info.Op, summary.Status)
	logger.WithFields(logrus.Fields{
		"status":    summary.Status,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("run finished")
	if o.onFinish != nil {
		o.onFinish(journalCtx, summary)
	}

	return result, runErr
}

// interrupted reports an item cut short by cancellation of the run. Such an
// item never completed and stays out of the journal, so a resumed run starts
// with it again.
func interrupted(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func status(result *bulk.Result[string], err error) string {
	if err != nil {
		return StatusAborted
	}
	switch result.ExitCode() {
	case 0:
		return StatusSuccess
	case 5:
		return StatusPartial
	default:
		return StatusFailed
	}
}

func (o *Orchestrator) newPrefix(requested string) string {
	if requested == "" {
		return o.prefix
	}
	return requested
}
