package domain

// SSE event type constants for the chat stream.
//
// Ordering contract: conversationId is always first; sessionExpired (if the
// supplied session was rejected) and sessionId precede any text; text events
// preserve upstream emission order; citations and guardrail follow the last
// text event; exactly one of done or error terminates the stream.
const (
	EventConversationID = "conversationId"
	EventSessionID      = "sessionId"
	EventSessionExpired = "sessionExpired"
	EventText           = "text"
	EventCitations      = "citations"
	EventGuardrail      = "guardrail"
	EventDone           = "done"
	EventError          = "error"
)

// ConversationIDEvent identifies the turn. Emitted unconditionally before
// anything else so the client can attach feedback even if streaming fails.
type ConversationIDEvent struct {
	ConversationID string `json:"conversationId"`
}

// SessionIDEvent carries the continuity token accepted or issued by the
// generation backend for this turn.
type SessionIDEvent struct {
	SessionID string `json:"sessionId"`
}

// SessionExpiredEvent signals that the supplied session was rejected and a
// fresh session was started transparently. Informational; the request
// continues with one automatic retry.
type SessionExpiredEvent struct {
	Message string `json:"message"`
}

// TextEvent is one incremental answer fragment. Fragments concatenated in
// emission order reproduce the persisted answer exactly.
type TextEvent struct {
	Text string `json:"text"`
}

// CitationsEvent carries the full reference list, emitted once after all text.
type CitationsEvent struct {
	Citations []Citation `json:"citations"`
}

// GuardrailEvent reports that the backend's guardrail layer intervened.
type GuardrailEvent struct {
	Action string `json:"action"`
}

// DoneEvent is the terminal success event.
type DoneEvent struct {
	Status         string `json:"status"`
	ConversationID string `json:"conversationId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// ErrorEvent is the terminal failure event. Mutually exclusive with done.
type ErrorEvent struct {
	Error string `json:"error"`
}

// DoneStatusComplete is the literal status carried by every done event.
const DoneStatusComplete = "complete"
