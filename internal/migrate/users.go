package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/lherron/couchmig/internal/bulk"
	"github.com/lherron/couchmig/internal/couch"
	"github.com/lherron/couchmig/internal/metrics"
	"github.com/lherron/couchmig/internal/scope"
)

// errUserNotFound marks a user missing from the source server. Only that
// case is skipped; any other failure aborts the database's user step.
var errUserNotFound = errors.New("user not found")

// UserOptions configures a user copy run
type UserOptions struct {
	scope.ListOptions

	// NewPrefix renames targets; empty keeps the scope prefix
	NewPrefix string
}

// CopyUsers copies the security context of every database in scope on
// hostFrom to the matching database on hostTo.
func (o *Orchestrator) CopyUsers(ctx context.Context, hostFrom, hostTo string, opts UserOptions) (*bulk.Result[string], error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	newPrefix := o.newPrefix(opts.NewPrefix)
	lister, err := o.client(hostFrom)
	if err != nil {
		return nil, fmt.Errorf("%w: source: %v", ErrInvalidConfig, err)
	}

	info := RunInfo{
		Op:     OpUsers,
		Prefix: o.prefix,
		Host:   scope.ScrubCredentials(o.host),
		Source: scope.ScrubCredentials(hostFrom),
		Target: scope.ScrubCredentials(hostTo),
	}

	return o.run(ctx, info, lister, opts.ListOptions, false, func(ctx context.Context, name string) (string, error) {
		targetName, err := scope.Rewrite(name, o.prefix, newPrefix)
		if err != nil {
			return "", err
		}
		return targetName, o.copySecurityContext(ctx, scope.JoinDB(hostFrom, name), scope.JoinDB(hostTo, targetName))
	})
}

// CopySecurityContext copies every user named in the source database's
// security document, then the security document itself.
func (o *Orchestrator) CopySecurityContext(ctx context.Context, fromURL, toURL string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copySecurityContext(ctx, fromURL, toURL)
}

func (o *Orchestrator) copySecurityContext(ctx context.Context, fromURL, toURL string) error {
	o.events.Start("Transfer users from " + scope.DBName(fromURL))
	if err := o.transferSecurity(ctx, fromURL, toURL); err != nil {
		o.events.Fail(err)
		return err
	}
	o.events.End("Done")
	return nil
}

func (o *Orchestrator) transferSecurity(ctx context.Context, fromURL, toURL string) error {
	fromHost, fromDB, err := scope.SplitDBURL(fromURL)
	if err != nil {
		return err
	}
	toHost, toDB, err := scope.SplitDBURL(toURL)
	if err != nil {
		return err
	}
	src, err := o.client(fromHost)
	if err != nil {
		return err
	}
	dst, err := o.client(toHost)
	if err != nil {
		return err
	}

	security, err := src.GetSecurity(ctx, fromDB)
	if err != nil {
		return fmt.Errorf("failed to read security of %s: %w", fromDB, err)
	}

	_, err = bulk.Execute(ctx, bulk.Operation{}, security.UserNames(), func(ctx context.Context, id string) (struct{}, error) {
		o.events.Checkpoint(id)
		err := o.copyUserDocument(ctx, id, fromHost, toHost)
		if errors.Is(err, errUserNotFound) {
			o.events.Error(fmt.Sprintf("User %s not found", id))
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	if err != nil {
		return err
	}

	if err := dst.PutSecurity(ctx, toDB, security); err != nil {
		return fmt.Errorf("failed to write security of %s: %w", toDB, err)
	}
	return nil
}

// CopyUserDocument copies one user document between servers. The outcome is
// remembered for the rest of the run, so each user is copied at most once.
func (o *Orchestrator) CopyUserDocument(ctx context.Context, userID, fromHost, toHost string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.copyUserDocument(ctx, userID, fromHost, toHost)
}

func (o *Orchestrator) copyUserDocument(ctx context.Context, userID, fromHost, toHost string) error {
	key := strings.Join([]string{userID, hostKey(fromHost), hostKey(toHost)}, "\x00")
	if err, ok := o.memo[key]; ok {
		o.metrics.IncUserCopy(metrics.UserMemoized)
		return err
	}

	result, err := o.transferUser(ctx, userID, fromHost, toHost)
	if err != nil {
		result = metrics.UserFailed
		if errors.Is(err, errUserNotFound) {
			result = metrics.UserMissing
		}
	}
	o.metrics.IncUserCopy(result)
	o.memo[key] = err
	return err
}

func (o *Orchestrator) transferUser(ctx context.Context, userID, fromHost, toHost string) (string, error) {
	src, err := o.client(fromHost)
	if err != nil {
		return "", err
	}
	dst, err := o.client(toHost)
	if err != nil {
		return "", err
	}

	doc, err := src.GetUser(ctx, userID)
	if couch.IsNotFound(err) {
		return "", fmt.Errorf("%w: %s: %w", errUserNotFound, userID, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read user %s: %w", userID, err)
	}
	doc = doc.WithoutRev()
	if o.sanitizeRoles {
		doc["roles"] = SanitizeRoles(doc["roles"])
	}

	if _, err := dst.PutUser(ctx, userID, doc); err == nil {
		return metrics.UserCopied, nil
	} else if !couch.IsConflict(err) {
		return "", fmt.Errorf("failed to write user %s: %w", userID, err)
	}

	current, err := dst.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to read conflicting user %s: %w", userID, err)
	}
	if couch.SameContent(doc, current) {
		return metrics.UserUnchanged, nil
	}

	o.logConflict(userID, current, doc)

	// single retry; a writer racing this one surfaces as an error
	doc["_rev"] = current.Rev()
	if _, err := dst.PutUser(ctx, userID, doc); err != nil {
		return "", fmt.Errorf("failed to overwrite user %s: %w", userID, err)
	}
	return metrics.UserRetried, nil
}

func (o *Orchestrator) logConflict(userID string, current, incoming couch.Document) {
	a, _ := json.MarshalIndent(current.WithoutRev(), "", "  ")
	b, _ := json.MarshalIndent(incoming.WithoutRev(), "", "  ")
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: "target",
		ToFile:   "source",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return
	}
	o.logger.WithFields(logrus.Fields{"user": userID, "diff": text}).Debug("overwriting conflicting user")
}

// SanitizeRoles strips leading underscores from role names, dropping roles
// that end up empty and duplicates.
func SanitizeRoles(roles any) []any {
	list, _ := roles.([]any)
	seen := make(map[string]bool, len(list))
	out := make([]any, 0, len(list))
	for _, r := range list {
		name, ok := r.(string)
		if !ok {
			continue
		}
		name = strings.TrimLeft(name, "_")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func hostKey(host string) string {
	return strings.TrimRight(scope.ScrubCredentials(host), "/")
}
