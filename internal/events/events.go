// Package events defines the lifecycle events emitted by long-running
// migration operations and the sinks that consume them.
package events

import (
	"fmt"
	"sync"
)

// Kind identifies a lifecycle event
type Kind string

const (
	OpStart      Kind = "opStart"
	OpProgress   Kind = "opProgress"
	OpCheckpoint Kind = "opCheckpoint"
	OpEnd        Kind = "opEnd"
	OpError      Kind = "opError"
)

// Event is a single lifecycle signal. Percent is only set on OpProgress
// events for which the store reported a completion percentage.
type Event struct {
	Kind    Kind
	Payload string
	Percent *int
}

// String renders the event as kind(payload)
func (e Event) String() string {
	return fmt.Sprintf("%s(%q)", e.Kind, e.Payload)
}

// Sink receives events. Implementations must be safe for use from the
// progress poller goroutine as well as the caller's goroutine.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans events out to several sinks in order
func Multi(sinks ...Sink) Sink {
	var filtered []Sink
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return SinkFunc(func(e Event) {
		for _, s := range filtered {
			s.Emit(e)
		}
	})
}

// Emitter wraps a Sink with helpers for each event kind.
// A nil sink discards.
type Emitter struct {
	sink Sink
}

// NewEmitter creates a new emitter
func NewEmitter(sink Sink) *Emitter {
	if sink == nil {
		sink = Discard
	}
	return &Emitter{sink: sink}
}

// Start emits OpStart
func (e *Emitter) Start(label string) {
	e.sink.Emit(Event{Kind: OpStart, Payload: label})
}

// Progress emits OpProgress with a completion percentage
func (e *Emitter) Progress(percent int) {
	p := percent
	e.sink.Emit(Event{Kind: OpProgress, Payload: fmt.Sprintf("%d%%", percent), Percent: &p})
}

// Status emits OpProgress with a free-form status
func (e *Emitter) Status(status string) {
	e.sink.Emit(Event{Kind: OpProgress, Payload: status})
}

// Checkpoint emits OpCheckpoint
func (e *Emitter) Checkpoint(label string) {
	e.sink.Emit(Event{Kind: OpCheckpoint, Payload: label})
}

// End emits OpEnd
func (e *Emitter) End(status string) {
	e.sink.Emit(Event{Kind: OpEnd, Payload: status})
}

// Fail emits OpEnd with the standard "Error: <message>" status
func (e *Emitter) Fail(err error) {
	e.End("Error: " + err.Error())
}

// Error emits OpError
func (e *Emitter) Error(message string) {
	e.sink.Emit(Event{Kind: OpError, Payload: message})
}

// Recorder is a Sink that keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the event
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Without returns the recorded events excluding the given kinds
func (r *Recorder) Without(kinds ...Kind) []Event {
	skip := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		skip[k] = true
	}
	var out []Event
	for _, e := range r.Events() {
		if !skip[e.Kind] {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
