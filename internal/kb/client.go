// Package kb wraps the managed retrieval-and-generation backend (Bedrock
// Knowledge Base). All retrieval, ranking and answer synthesis happens inside
// the service; this package only shapes requests and re-frames the incremental
// response stream.
package kb

import (
	"context"
	"errors"

	"docent/internal/domain"
)

// ErrSessionExpired marks an upstream rejection of the supplied session
// continuity token. Recoverable: the relay retries once with a fresh session.
var ErrSessionExpired = errors.New("session expired")

// IsSessionExpired reports whether err is (or wraps) a session rejection.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// Request is one retrieval-and-generation invocation.
type Request struct {
	Query           string
	SessionID       string // empty for a fresh session
	NumberOfResults int    // upper bound on retrieved passages
	PromptTemplate  string // generation instruction, selects response language
}

// EventKind discriminates incremental stream events.
type EventKind int

const (
	EventText EventKind = iota
	EventCitation
	EventGuardrail
)

// Event is one incremental chunk from the backend. Exactly one payload field
// is meaningful, selected by Kind.
type Event struct {
	Kind      EventKind
	Text      string
	Citation  domain.Citation
	Guardrail string
}

// Stream is a live response stream. Events() closes when the upstream reaches
// end-of-stream or fails; Err() reports the failure after the channel closes.
type Stream interface {
	// SessionID returns the continuity token accepted or issued for this
	// turn, known as soon as the stream opens.
	SessionID() string

	Events() <-chan Event

	// Err returns the terminal stream error, if any. Valid after Events()
	// has been drained.
	Err() error

	// Close abandons the stream. Safe to call after normal completion.
	Close() error
}

// Client is the upstream generation backend.
type Client interface {
	RetrieveAndGenerateStream(ctx context.Context, req *Request) (Stream, error)
}
