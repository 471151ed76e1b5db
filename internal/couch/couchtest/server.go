// Package couchtest runs an in-memory CouchDB look-alike on httptest for
// exercising the client and the migration engine.
package couchtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lherron/couchmig/internal/scope"
)

// Network lets servers replicate to each other by URL
type Network struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// NewNetwork creates an empty network
func NewNetwork() *Network {
	return &Network{servers: make(map[string]*Server)}
}

func (n *Network) register(s *Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[strings.TrimRight(s.URL, "/")] = s
}

func (n *Network) resolve(dbURL string) (*Server, string, error) {
	host, db, err := scope.SplitDBURL(dbURL)
	if err != nil {
		return nil, "", err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.servers[strings.TrimRight(scope.ScrubCredentials(host), "/")]
	if !ok {
		return nil, "", fmt.Errorf("unknown server %s", scope.ScrubCredentials(host))
	}
	return s, db, nil
}

// Fault makes matching requests fail with Status
type Fault struct {
	Status int
	Error  string
	Reason string
}

type database struct {
	docs     map[string]map[string]any
	security json.RawMessage
}

// Server is one fake CouchDB
type Server struct {
	*httptest.Server

	network  *Network
	mu       sync.Mutex
	username string
	password string
	delay    time.Duration
	progress int
	dbs      map[string]*database
	tasks    []map[string]any
	faults   map[string]Fault
	requests []string
	seq      int
}

// New starts a server on its own network
func New(t testing.TB) *Server {
	return NewNetwork().NewServer(t)
}

// NewServer starts a server attached to the network
func (n *Network) NewServer(t testing.TB) *Server {
	s := &Server{
		network:  n,
		dbs:      map[string]*database{"_users": newDatabase(), "_replicator": newDatabase()},
		faults:   make(map[string]Fault),
		progress: 50,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	n.register(s)
	t.Cleanup(s.Close)
	return s
}

func newDatabase() *database {
	return &database{docs: make(map[string]map[string]any)}
}

// RequireAuth rejects requests without these basic auth credentials
func (s *Server) RequireAuth(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.password = username, password
}

// AuthURL returns the server URL with the required credentials embedded
func (s *Server) AuthURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, _ := url.Parse(s.URL)
	u.User = url.UserPassword(s.username, s.password)
	return u.String()
}

// SlowReplication holds POST /_replicate open for delay while an active
// replication task reports progress
func (s *Server) SlowReplication(delay time.Duration, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay, s.progress = delay, progress
}

// AddDB creates databases
func (s *Server) AddDB(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.dbs[name]; !ok {
			s.dbs[name] = newDatabase()
		}
	}
}

// HasDB reports whether a database exists
func (s *Server) HasDB(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dbs[name]
	return ok
}

// DBNames returns the sorted database names
func (s *Server) DBNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PutDoc stores a document, assigning a revision
func (s *Server) PutDoc(db, id string, doc map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		d = newDatabase()
		s.dbs[db] = d
	}
	stored := clone(doc)
	stored["_id"] = id
	stored["_rev"] = s.nextRev(d.docs[id])
	d.docs[id] = stored
	return stored["_rev"].(string)
}

// Doc returns a copy of a document, or nil
func (s *Server) Doc(db, id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok || d.docs[id] == nil {
		return nil
	}
	return clone(d.docs[id])
}

// PutUser stores a user document under its namespaced id
func (s *Server) PutUser(name string, fields map[string]any) string {
	doc := clone(fields)
	doc["name"] = name
	doc["type"] = "user"
	if _, ok := doc["roles"]; !ok {
		doc["roles"] = []any{}
	}
	return s.PutDoc("_users", "org.couchdb.user:"+name, doc)
}

// User returns a copy of a user document, or nil
func (s *Server) User(name string) map[string]any {
	return s.Doc("_users", "org.couchdb.user:"+name)
}

// SetSecurity stores a raw _security object
func (s *Server) SetSecurity(db string, security string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		d = newDatabase()
		s.dbs[db] = d
	}
	d.security = json.RawMessage(security)
}

// Security returns the raw _security object of db
func (s *Server) Security(db string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.dbs[db]; ok && d.security != nil {
		return string(d.security)
	}
	return ""
}

// SetActiveTasks replaces the static part of /_active_tasks
func (s *Server) SetActiveTasks(tasks ...map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
}

// Fail registers a fault for "METHOD /path" (path unescaped)
func (s *Server) Fail(method, path string, f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[method+" "+path] = f
}

// Requests returns the "METHOD /path" log, paths unescaped
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests counts logged requests with the given method and path prefix
func (s *Server) CountRequests(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

func (s *Server) nextRev(prev map[string]any) string {
	gen := 0
	if prev != nil {
		fmt.Sscanf(prev["_rev"].(string), "%d-", &gen)
	}
	s.seq++
	return fmt.Sprintf("%d-%08x", gen+1, s.seq)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	segments := splitPath(r.URL.EscapedPath())
	key := r.Method + " /" + strings.Join(segments, "/")

	s.mu.Lock()
	s.requests = append(s.requests, key)
	fault, faulted := s.faults[key]
	username, password := s.username, s.password
	s.mu.Unlock()

	if username != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != username || pass != password {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Name or password is incorrect.")
			return
		}
	}
	if faulted {
		writeError(w, fault.Status, fault.Error, fault.Reason)
		return
	}

	switch {
	case len(segments) == 1 && segments[0] == "_all_dbs" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.DBNames())
	case len(segments) == 1 && segments[0] == "_active_tasks" && r.Method == http.MethodGet:
		s.mu.Lock()
		tasks := append([]map[string]any(nil), s.tasks...)
		s.mu.Unlock()
		if tasks == nil {
			tasks = []map[string]any{}
		}
		writeJSON(w, http.StatusOK, tasks)
	case len(segments) == 1 && segments[0] == "_replicate" && r.Method == http.MethodPost:
		s.handleReplicate(w, r)
	case len(segments) == 1:
		s.handleDB(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "_security":
		s.handleSecurity(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "_bulk_docs" && r.Method == http.MethodPost:
		s.handleBulkDocs(w, r, segments[0])
	case len(segments) == 2:
		s.handleDoc(w, r, segments[0], segments[1])
	default:
		writeError(w, http.StatusNotFound, "not_found", "missing")
	}
}

func (s *Server) handleDB(w http.ResponseWriter, r *http.Request, db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.dbs[db]

	switch r.Method {
	case http.MethodPut:
		if exists {
			writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		s.dbs[db] = newDatabase()
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	case http.MethodDelete:
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		delete(s.dbs, db)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case http.MethodGet:
		if !exists {
			writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"db_name": db, "doc_count": len(s.dbs[db].docs)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) handleSecurity(w http.ResponseWriter, r *http.Request, db string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if d.security == nil {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(d.security)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil || !json.Valid(body) {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
			return
		}
		d.security = body
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request, db, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc := d.docs[id]
		if doc == nil {
			writeError(w, http.StatusNotFound, "not_found", "missing")
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodPut:
		var doc map[string]any
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
			return
		}
		rev, errName := s.store(d, id, doc)
		if errName != "" {
			writeError(w, http.StatusConflict, errName, "Document update conflict.")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": rev})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method)
	}
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request, db string) {
	var payload struct {
		Docs []map[string]any `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}

	results := make([]map[string]any, 0, len(payload.Docs))
	for _, doc := range payload.Docs {
		id, _ := doc["_id"].(string)
		if id == "" {
			s.seq++
			id = fmt.Sprintf("auto-%08x", s.seq)
		}
		rev, errName := s.store(d, id, doc)
		if errName != "" {
			results = append(results, map[string]any{"id": id, "error": errName, "reason": "Document update conflict."})
			continue
		}
		results = append(results, map[string]any{"id": id, "rev": rev, "ok": true})
	}
	writeJSON(w, http.StatusCreated, results)
}

// store applies CouchDB's revision check; callers hold s.mu
func (s *Server) store(d *database, id string, doc map[string]any) (string, string) {
	current := d.docs[id]
	rev, _ := doc["_rev"].(string)
	if current != nil && rev != current["_rev"] {
		return "", "conflict"
	}
	if current == nil && rev != "" {
		return "", "conflict"
	}
	stored := clone(doc)
	stored["_id"] = id
	stored["_rev"] = s.nextRev(current)
	d.docs[id] = stored
	return stored["_rev"].(string), ""
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source       string `json:"source"`
		Target       string `json:"target"`
		CreateTarget bool   `json:"create_target"`
		Continuous   bool   `json:"continuous"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}

	src, srcDB, err := s.network.resolve(req.Source)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	tgt, tgtDB, err := s.network.resolve(req.Target)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	docs, ok := src.snapshot(srcDB)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	if !tgt.HasDB(tgtDB) {
		if !req.CreateTarget {
			writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		tgt.AddDB(tgtDB)
	}

	s.mu.Lock()
	delay, progress := s.delay, s.progress
	s.mu.Unlock()

	if delay > 0 {
		task := map[string]any{
			"type":           "replication",
			"source":         redact(req.Source),
			"target":         redact(req.Target),
			"progress":       progress,
			"replication_id": fmt.Sprintf("%x+create_target", len(req.Source)+len(req.Target)),
			"continuous":     req.Continuous,
			"updated_on":     time.Now().Unix(),
		}
		s.mu.Lock()
		s.tasks = append(s.tasks, task)
		s.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
		}

		s.mu.Lock()
		for i, t := range s.tasks {
			if fmt.Sprint(t) == fmt.Sprint(task) {
				s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}

	tgt.mu.Lock()
	d := tgt.dbs[tgtDB]
	if d == nil {
		d = newDatabase()
		tgt.dbs[tgtDB] = d
	}
	for id, doc := range docs {
		d.docs[id] = doc
	}
	tgt.mu.Unlock()

	result := map[string]any{"ok": true, "session_id": fmt.Sprintf("%08x", len(docs))}
	if req.Continuous {
		result["_local_id"] = "local-" + srcDB + "-" + tgtDB
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) snapshot(db string) (map[string]map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dbs[db]
	if !ok {
		return nil, false
	}
	docs := make(map[string]map[string]any, len(d.docs))
	for id, doc := range d.docs {
		docs[id] = clone(doc)
	}
	return docs, true
}

// redact mimics how CouchDB reports replication endpoints
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "*****")
	}
	return strings.TrimRight(u.String(), "/") + "/"
}

func splitPath(escaped string) []string {
	var out []string
	for _, part := range strings.Split(strings.Trim(escaped, "/"), "/") {
		if part == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(part); err == nil {
			part = unescaped
		}
		out = append(out, part)
	}
	return out
}

func clone(doc map[string]any) map[string]any {
	data, _ := json.Marshal(doc)
	out := make(map[string]any)
	json.Unmarshal(data, &out)
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, name, reason string) {
	writeJSON(w, status, map[string]string{"error": name, "reason": reason})
}
