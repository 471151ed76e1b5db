// Package couch is a minimal client for the CouchDB HTTP API covering what
// the migration engine needs: database listing, replication, active tasks,
// security and user documents, and generic document access.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const defaultTimeout = 10 * time.Minute

// Client talks to one CouchDB server
type Client struct {
	host   string
	base   string
	user   *url.Userinfo
	http   *http.Client
	logger logrus.FieldLogger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the request logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at host. Credentials embedded in
// host are sent as basic auth.
func New(host string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(host))
	if err != nil {
		return nil, fmt.Errorf("invalid host url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid host url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid host url: missing host")
	}

	user := u.User
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""

	c := &Client{
		host:   strings.TrimRight(host, "/"),
		base:   strings.TrimRight(u.String(), "/"),
		user:   user,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Host returns the server URL including credentials
func (c *Client) Host() string {
	return c.host
}

// AllDBs lists every database on the server, in store order
func (c *Client) AllDBs(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/_all_dbs", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// ActiveTasks lists the server's background tasks
func (c *Client) ActiveTasks(ctx context.Context) ([]ActiveTask, error) {
	body, err := c.raw(ctx, http.MethodGet, "/_active_tasks", nil)
	if err != nil {
		return nil, err
	}

	var tasks []ActiveTask
	gjson.ParseBytes(body).ForEach(func(_, value gjson.Result) bool {
		task := ActiveTask{
			Type:          value.Get("type").String(),
			Source:        value.Get("source").String(),
			Target:        value.Get("target").String(),
			ReplicationID: value.Get("replication_id").String(),
			Continuous:    value.Get("continuous").Bool(),
			UpdatedOn:     value.Get("updated_on").Int(),
			DocsRead:      value.Get("docs_read").Int(),
			DocsWritten:   value.Get("docs_written").Int(),
		}
		if p := value.Get("progress"); p.Exists() {
			pct := int(p.Int())
			task.Progress = &pct
		}
		tasks = append(tasks, task)
		return true
	})
	return tasks, nil
}

// ReplicationTasks lists only the replication tasks
func (c *Client) ReplicationTasks(ctx context.Context) ([]ActiveTask, error) {
	tasks, err := c.ActiveTasks(ctx)
	if err != nil {
		return nil, err
	}
	var out []ActiveTask
	for _, t := range tasks {
		if t.IsReplication() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Replicate issues one replication through this server. A one-shot
// replication returns when the store has finished it.
func (c *Client) Replicate(ctx context.Context, req ReplicationRequest) (*ReplicationResult, error) {
	var result ReplicationResult
	if err := c.do(ctx, http.MethodPost, "/_replicate", req, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return &result, fmt.Errorf("replication not acknowledged by %s", c.base)
	}
	return &result, nil
}

// CreateDB creates a database
func (c *Client) CreateDB(ctx context.Context, db string) error {
	return c.do(ctx, http.MethodPut, dbPath(db), nil, nil)
}

// DestroyDB deletes a database
func (c *Client) DestroyDB(ctx context.Context, db string) error {
	return c.do(ctx, http.MethodDelete, dbPath(db), nil, nil)
}

// GetSecurity reads a database's _security object
func (c *Client) GetSecurity(ctx context.Context, db string) (*SecurityDocument, error) {
	var doc SecurityDocument
	if err := c.do(ctx, http.MethodGet, dbPath(db)+"/_security", nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// PutSecurity writes a database's _security object
func (c *Client) PutSecurity(ctx context.Context, db string, doc *SecurityDocument) error {
	return c.do(ctx, http.MethodPut, dbPath(db)+"/_security", doc, nil)
}

// GetUser reads the credential document of user name
func (c *Client) GetUser(ctx context.Context, name string) (Document, error) {
	var doc Document
	if err := c.GetDoc(ctx, "_users", UserDocID(name), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// PutUser creates or updates the credential document of user name
func (c *Client) PutUser(ctx context.Context, name string, doc Document) (string, error) {
	return c.PutDoc(ctx, "_users", UserDocID(name), doc)
}

// GetDoc reads document id of db into out
func (c *Client) GetDoc(ctx context.Context, db, id string, out any) error {
	return c.do(ctx, http.MethodGet, docPath(db, id), nil, out)
}

// PutDoc creates or updates document id of db and returns the new revision
func (c *Client) PutDoc(ctx context.Context, db, id string, doc any) (string, error) {
	body, err := c.raw(ctx, http.MethodPut, docPath(db, id), doc)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "rev").String(), nil
}

// BulkDocs writes docs to db in one request
func (c *Client) BulkDocs(ctx context.Context, db string, docs []any) ([]BulkResult, error) {
	var results []BulkResult
	payload := map[string]any{"docs": docs}
	if err := c.do(ctx, http.MethodPost, dbPath(db)+"/_bulk_docs", payload, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func dbPath(db string) string {
	return "/" + url.PathEscape(db)
}

func docPath(db, id string) string {
	return dbPath(db) + "/" + url.PathEscape(id)
}

// do sends a request and decodes the JSON response into out when non-nil
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := c.raw(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}

// raw sends a request and returns the response body of a 2xx response
func (c *Client) raw(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%s %s: failed to encode request: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to build request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != nil {
		password, _ := c.user.Password()
		req.SetBasicAuth(c.user.Username(), password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("couchdb request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(method, path, resp.StatusCode, body)
	}
	return body, nil
}
