package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/lherron/couchmig/internal/bulk"
	"github.com/lherron/couchmig/internal/couch"
	"github.com/lherron/couchmig/internal/scope"
)

// ReplicateOptions configures replication
type ReplicateOptions struct {
	scope.ListOptions

	// NewPrefix renames targets; empty keeps the scope prefix
	NewPrefix string

	// WithUsers copies security and user documents after each database
	WithUsers bool

	Continuous bool

	// ProgressInterval polls the active tasks while a replication runs;
	// zero disables polling
	ProgressInterval time.Duration
}

// ReplicateOne replicates one database URL to another through the
// instance host, creating the target.
func (o *Orchestrator) ReplicateOne(ctx context.Context, source, target string, opts ReplicateOptions) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.replicateOne(ctx, source, target, opts)
}

func (o *Orchestrator) replicateOne(ctx context.Context, source, target string, opts ReplicateOptions) error {
	o.events.Start("Replicate " + scope.DBName(source))

	if opts.ProgressInterval > 0 {
		o.tracker.Start(source, target, opts.ProgressInterval, func(percent int, ok bool) {
			if ok {
				o.events.Progress(percent)
			} else {
				o.events.Status("waiting")
			}
		})
	}

	_, err := o.store.Replicate(ctx, couch.ReplicationRequest{
		Source:       source,
		Target:       target,
		CreateTarget: true,
		Continuous:   opts.Continuous,
	})
	o.tracker.Stop()

	if err != nil {
		o.events.Fail(err)
		return err
	}
	o.events.End("Success")
	return nil
}

// ReplicateAll replicates every database in scope on source to target,
// renaming with opts.NewPrefix. Per-database failures are recorded in the
// result; the returned error is reserved for configuration, scope and
// cancellation errors.
func (o *Orchestrator) ReplicateAll(ctx context.Context, source, target string, opts ReplicateOptions) (*bulk.Result[string], error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	newPrefix := o.newPrefix(opts.NewPrefix)
	if newPrefix == o.prefix && scope.SameURL(source, target) {
		return nil, fmt.Errorf("%w: %s", ErrSameSourceTarget, scope.ScrubCredentials(source))
	}

	lister, err := o.client(source)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrInvalidConfig, err)
	}

	info := RunInfo{
		Op:     OpReplicate,
		Prefix: o.prefix,
		Host:   scope.ScrubCredentials(o.host),
		Source: scope.ScrubCredentials(source),
		Target: scope.ScrubCredentials(target),
	}

	return o.run(ctx, info, lister, opts.ListOptions, false, func(ctx context.Context, name string) (string, error) {
		targetName, err := scope.Rewrite(name, o.prefix, newPrefix)
		if err != nil {
			return "", err
		}
		src := scope.JoinDB(source, name)
		dst := scope.JoinDB(target, targetName)

		err = o.replicateOne(ctx, src, dst, opts)
		if opts.WithUsers {
			if userErr := o.copySecurityContext(ctx, src, dst); userErr != nil {
				if err != nil {
					o.logger.WithField("db", name).WithError(userErr).Error("user copy failed")
				} else {
					err = fmt.Errorf("users: %w", userErr)
				}
			}
		}
		return targetName, err
	})
}
