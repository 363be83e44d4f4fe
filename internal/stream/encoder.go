// Package stream writes newline-delimited JSON event streams.
package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ContentType is the media type of an NDJSON response.
const ContentType = "application/x-ndjson"

const (
	EventMetadata = "metadata"
	EventPost     = "post"
	EventMessage  = "message"
	EventComplete = "complete"
	EventError    = "error"
)

// ErrStreamClosed is returned for any event written after the terminal one.
var ErrStreamClosed = errors.New("stream already terminated")

type metadataEvent struct {
	Type    string `json:"type"`
	HasMore bool   `json:"hasMore"`
	Total   int    `json:"total"`
}

type postEvent struct {
	Type string `json:"type"`
	Post any    `json:"post"`
}

type messageEvent struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

type completeEvent struct {
	Type string `json:"type"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encoder emits one JSON object per line and flushes after every event.
// Exactly one terminal event (complete or error) may be written.
type Encoder struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
	closed  bool
	events  int
}

// NewEncoder wraps w. If w implements http.Flusher each event is flushed.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{enc: json.NewEncoder(w)}
	e.enc.SetEscapeHTML(false)
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

func (e *Encoder) write(event any, terminal bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStreamClosed
	}
	if terminal {
		e.closed = true
	}
	// json.Encoder 每次 Encode 末尾追加换行
	if err := e.enc.Encode(event); err != nil {
		return err
	}
	e.events++
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Metadata writes the leading metadata event.
func (e *Encoder) Metadata(hasMore bool, total int) error {
	return e.write(metadataEvent{Type: EventMetadata, HasMore: hasMore, Total: total}, false)
}

// Post writes one post event.
func (e *Encoder) Post(post any) error {
	return e.write(postEvent{Type: EventPost, Post: post}, false)
}

// Message writes one chat message event.
func (e *Encoder) Message(msg any) error {
	return e.write(messageEvent{Type: EventMessage, Message: msg}, false)
}

// Complete writes the successful terminal event.
func (e *Encoder) Complete() error {
	return e.write(completeEvent{Type: EventComplete}, true)
}

// Error writes the failure terminal event.
func (e *Encoder) Error(message string) error {
	return e.write(errorEvent{Type: EventError, Message: message}, true)
}

// Terminated reports whether a terminal event was written.
func (e *Encoder) Terminated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Events returns how many events were written.
func (e *Encoder) Events() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}
