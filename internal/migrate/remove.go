package migrate

import (
	"context"
	"slices"

	"github.com/lherron/couchmig/internal/bulk"
	"github.com/lherron/couchmig/internal/scope"
)

// RemoveOptions configures removal
type RemoveOptions struct {
	scope.ListOptions

	// Confirmed, when non-nil, limits removal to databases the user has
	// already seen. Databases that entered the scope since are left alone.
	Confirmed []string
}

// RemoveAll deletes every database in scope on the instance host, in
// reverse scope order.
func (o *Orchestrator) RemoveAll(ctx context.Context, opts RemoveOptions) (*bulk.Result[string], error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	info := RunInfo{
		Op:     OpRemove,
		Prefix: o.prefix,
		Host:   scope.ScrubCredentials(o.host),
	}

	var lister scope.Lister = o.store
	if opts.Confirmed != nil {
		lister = &confirmedLister{Lister: o.store, confirmed: opts.Confirmed, after: opts.After, orch: o}
	}

	return o.run(ctx, info, lister, opts.ListOptions, true, func(ctx context.Context, name string) (string, error) {
		o.events.Start("Remove " + name)
		if err := o.store.DestroyDB(ctx, name); err != nil {
			o.events.Fail(err)
			return name, err
		}
		o.events.End("Success")
		return name, nil
	})
}

// confirmedLister drops in-scope databases missing from a confirmed
// listing. The resume cursor stays listed so it can still be located.
type confirmedLister struct {
	scope.Lister
	confirmed []string
	after     string
	orch      *Orchestrator
}

func (l *confirmedLister) AllDBs(ctx context.Context) ([]string, error) {
	names, err := l.Lister.AllDBs(ctx)
	if err != nil {
		return nil, err
	}
	kept := names[:0]
	for _, name := range names {
		if !l.orch.resolver.InScope(name) || name == l.after || slices.Contains(l.confirmed, name) {
			kept = append(kept, name)
			continue
		}
		l.orch.logger.WithField("db", name).Warn("database not confirmed for removal; leaving it")
	}
	return kept, nil
}
