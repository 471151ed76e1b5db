package couch

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Error is a non-2xx response from the store
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Name       string
	Reason     string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.StatusCode)
	if e.Name != "" {
		msg += " " + e.Name
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func newError(method, path string, status int, body []byte) *Error {
	e := &Error{Method: method, Path: path, StatusCode: status}
	if gjson.ValidBytes(body) {
		e.Name = gjson.GetBytes(body, "error").String()
		e.Reason = gjson.GetBytes(body, "reason").String()
	}
	if e.Name == "" {
		e.Name = http.StatusText(status)
	}
	return e
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 response
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsConflict reports a 409 document update conflict
func IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsPreconditionFailed reports a 412 response, returned when creating a
// database that already exists
func IsPreconditionFailed(err error) bool {
	return StatusCode(err) == http.StatusPreconditionFailed
}
