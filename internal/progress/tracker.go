// Package progress correlates an in-flight replication with the store's
// active task list.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lherron/couchmig/internal/couch"
	"github.com/lherron/couchmig/internal/metrics"
	"github.com/lherron/couchmig/internal/scope"
)

const (
	// MinInterval is the shortest poll interval accepted
	MinInterval = time.Second

	// DefaultInterval is used when no interval is configured
	DefaultInterval = 2 * time.Second
)

// TaskLister lists the store's active tasks
type TaskLister interface {
	ActiveTasks(ctx context.Context) ([]couch.ActiveTask, error)
}

// Func receives the matched task's progress. ok is false when no matching
// task was found or it reported no percentage.
type Func func(percent int, ok bool)

// Tracker polls for one replication at a time
type Tracker struct {
	tasks   TaskLister
	logger  logrus.FieldLogger
	metrics *metrics.Collector
	floor   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle tracker
func New(tasks TaskLister, logger logrus.FieldLogger, collector *metrics.Collector) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		tasks:   tasks,
		logger:  logger,
		metrics: collector,
		floor:   MinInterval,
	}
}

// Interval applies the default and the floor to a configured interval
func (t *Tracker) Interval(d time.Duration) time.Duration {
	if d <= 0 {
		d = DefaultInterval
	}
	if d < t.floor {
		d = t.floor
	}
	return d
}

// Active reports whether a replication is being tracked
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Start polls every interval until Stop, calling fn on each tick.
// Starting an active tracker panics.
func (t *Tracker) Start(source, target string, interval time.Duration, fn Func) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		panic("progress: tracker already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done

	go t.run(ctx, done, source, target, t.Interval(interval), fn)
}

// Stop halts polling and waits for an in-flight poll to return. Stopping an
// idle tracker does nothing.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tracker) run(ctx context.Context, done chan struct{}, source, target string, interval time.Duration, fn Func) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			percent, ok := t.poll(ctx, source, target)
			if ctx.Err() != nil {
				return
			}
			fn(percent, ok)
		}
	}
}

func (t *Tracker) poll(ctx context.Context, source, target string) (int, bool) {
	tasks, err := t.tasks.ActiveTasks(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.WithError(err).Debug("failed to poll active tasks")
		}
		return 0, false
	}

	task, found := Find(tasks, source, target)
	t.metrics.IncProgressPoll(found)
	if !found || task.Progress == nil {
		return 0, false
	}
	return *task.Progress, true
}

// Find returns the most recent replication task between source and target,
// comparing URLs without credentials or trailing slashes.
func Find(tasks []couch.ActiveTask, source, target string) (couch.ActiveTask, bool) {
	for i := len(tasks) - 1; i >= 0; i-- {
		task := tasks[i]
		if !task.IsReplication() {
			continue
		}
		if scope.SameURL(task.Source, source) && scope.SameURL(task.Target, target) {
			return task, true
		}
	}
	return couch.ActiveTask{}, false
}
