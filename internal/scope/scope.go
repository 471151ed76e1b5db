// Package scope implements prefix scoping of database names: membership,
// prefix rewriting, URL handling and the ordered scope listing.
package scope

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/lherron/couchmig/internal/cursor"
)

var (
	// ErrPrefixMismatch is returned by Rewrite when a name lacks the old prefix
	ErrPrefixMismatch = errors.New("prefix not match")

	// ErrOutOfScope is returned for resume or skip names outside the scope
	ErrOutOfScope = cursor.ErrOutOfScope

	// ErrResumeNotFound is returned when the resume database is not listed
	ErrResumeNotFound = cursor.ErrNotFound
)

// credentialsPattern matches the userinfo part of an URL that url.Parse rejected
var credentialsPattern = regexp.MustCompile(`^(\w+://)[^/]*@`)

// Scope is the set of databases whose name starts with Prefix
type Scope struct {
	Prefix string
}

// InScope reports whether name, or the database named by a database URL,
// starts with the prefix.
func (s Scope) InScope(name string) bool {
	return strings.HasPrefix(DBName(name), s.Prefix)
}

// Filter returns the in-scope names, preserving order
func (s Scope) Filter(names []string) []string {
	var out []string
	for _, name := range names {
		if s.InScope(name) {
			out = append(out, name)
		}
	}
	return out
}

// Rewrite maps a source-scoped name to the target prefix.
// Equal prefixes are the identity.
func Rewrite(name, oldPrefix, newPrefix string) (string, error) {
	if oldPrefix == newPrefix {
		return name, nil
	}
	if !strings.HasPrefix(name, oldPrefix) {
		return "", fmt.Errorf("%w: %q does not start with %q", ErrPrefixMismatch, name, oldPrefix)
	}
	return newPrefix + name[len(oldPrefix):], nil
}

// DBName extracts the database name from a database URL such as
// http://host:5984/db/_all_docs. Plain names are returned unchanged.
func DBName(name string) string {
	u, err := url.Parse(name)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return name
	}
	segment := strings.TrimPrefix(u.EscapedPath(), "/")
	if i := strings.Index(segment, "/"); i >= 0 {
		segment = segment[:i]
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		return unescaped
	}
	return segment
}

// JoinDB builds the URL of database db on host
func JoinDB(host, db string) string {
	return strings.TrimRight(host, "/") + "/" + url.PathEscape(db)
}

// SplitDBURL splits a database URL into its server URL and database name
func SplitDBURL(dbURL string) (host, db string, err error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid database url %q: missing scheme or host", ScrubCredentials(dbURL))
	}
	db = DBName(dbURL)
	if db == "" {
		return "", "", fmt.Errorf("invalid database url %q: missing database name", ScrubCredentials(dbURL))
	}
	server := &url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host}
	return server.String(), db, nil
}

// ScrubCredentials removes user:pass@ from an URL
func ScrubCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return credentialsPattern.ReplaceAllString(raw, "$1")
	}
	if u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// SameURL compares two URLs ignoring credentials and trailing slashes
func SameURL(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(raw string) string {
	return strings.TrimRight(ScrubCredentials(strings.TrimSpace(raw)), "/")
}
