package couch

import (
	"encoding/json"
	"reflect"
)

// UserPrefix namespaces user document ids in the _users database
const UserPrefix = "org.couchdb.user:"

// UserDocID returns the _users document id for a user name
func UserDocID(name string) string {
	return UserPrefix + name
}

// ActiveTask is one entry of /_active_tasks
type ActiveTask struct {
	Type          string `json:"type"`
	Source        string `json:"source"`
	Target        string `json:"target"`
	Progress      *int   `json:"progress,omitempty"`
	ReplicationID string `json:"replication_id,omitempty"`
	Continuous    bool   `json:"continuous"`
	UpdatedOn     int64  `json:"updated_on,omitempty"`
	DocsRead      int64  `json:"docs_read,omitempty"`
	DocsWritten   int64  `json:"docs_written,omitempty"`
}

// IsReplication reports whether the task is a replication
func (t ActiveTask) IsReplication() bool {
	return t.Type == "replication"
}

// ReplicationRequest is the body of POST /_replicate
type ReplicationRequest struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	CreateTarget bool   `json:"create_target"`
	Continuous   bool   `json:"continuous,omitempty"`
}

// ReplicationResult is the response of POST /_replicate
type ReplicationResult struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"session_id,omitempty"`
	LocalID   string `json:"_local_id,omitempty"`
}

// SecurityGroup lists the users and roles of a security section
type SecurityGroup struct {
	Names []string `json:"names"`
	Roles []string `json:"roles"`
}

// SecurityDocument is a database's _security object. A document read from
// the store marshals back to exactly the bytes that were read.
type SecurityDocument struct {
	Members SecurityGroup `json:"members"`
	Admins  SecurityGroup `json:"admins"`

	raw json.RawMessage
}

type plainSecurityDocument SecurityDocument

// UnmarshalJSON keeps the original bytes so unknown fields survive a copy
func (d *SecurityDocument) UnmarshalJSON(b []byte) error {
	var p plainSecurityDocument
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = SecurityDocument(p)
	d.raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON returns the original bytes when the document was read
func (d SecurityDocument) MarshalJSON() ([]byte, error) {
	if d.raw != nil {
		return d.raw, nil
	}
	return json.Marshal(plainSecurityDocument(d))
}

// UserNames returns members then admins names, de-duplicated, in order
func (d *SecurityDocument) UserNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, group := range []SecurityGroup{d.Members, d.Admins} {
		for _, name := range group.Names {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Document is a schemaless JSON document
type Document map[string]any

// ID returns the _id field
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the _rev field
func (d Document) Rev() string {
	rev, _ := d["_rev"].(string)
	return rev
}

// WithoutRev returns a shallow copy without _rev
func (d Document) WithoutRev() Document {
	out := make(Document, len(d))
	for k, v := range d {
		if k == "_rev" {
			continue
		}
		out[k] = v
	}
	return out
}

// SameContent compares two documents ignoring their revisions
func SameContent(a, b Document) bool {
	return reflect.DeepEqual(a.WithoutRev(), b.WithoutRev())
}

// BulkResult is one entry of a _bulk_docs response
type BulkResult struct {
	ID     string `json:"id"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}
