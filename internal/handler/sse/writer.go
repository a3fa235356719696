package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// Writer serializes typed events onto an SSE connection.
// SSE frame format:
//
//	event: text
//	data: {"text": "..."}
//
// Safe for concurrent use: the handler's request goroutine and the keep-alive
// ticker both write through it.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewWriter wraps an http.ResponseWriter that supports flushing.
func NewWriter(w http.ResponseWriter, flusher http.Flusher) *Writer {
	return &Writer{w: w, flusher: flusher}
}

// Emit writes one SSE frame and flushes it to the client. Returns an error
// once the connection is gone; subsequent calls are no-ops returning the
// same condition so callers can stop producing output.
func (s *Writer) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("write %s event: connection closed", event)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		s.closed = true
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()

	return nil
}

// WriteKeepAlive writes an SSE comment line (": keepalive") and flushes.
// Comment lines are ignored by clients; they only hold the connection open
// through proxies. Returns an error if the connection is closed.
func (s *Writer) WriteKeepAlive() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("write keepalive: connection closed")
	}
	if _, err := fmt.Fprintf(s.w, ": keepalive\n\n"); err != nil {
		s.closed = true
		return fmt.Errorf("write keepalive failed: %w", err)
	}
	s.flusher.Flush()

	return nil
}
