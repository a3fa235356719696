package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"docent/internal/config"
	"docent/internal/domain"
	"docent/internal/kb"
)

// persistTimeout bounds the finalize write so a slow store cannot hold the
// handler open indefinitely after the stream ended.
const persistTimeout = 10 * time.Second

// errClientGone marks a failed event write: the client disconnected. Not an
// upstream failure; the relay stops producing output and goes straight to
// finalize.
var errClientGone = errors.New("client disconnected")

// EventSink receives the ordered client-facing event stream.
type EventSink interface {
	Emit(event string, payload any) error
}

// ConversationWriter is the durable store as seen by the relay: one keyed
// insert per completed (or failed) turn.
type ConversationWriter interface {
	Put(ctx context.Context, rec *domain.ConversationRecord) error
}

// ChatRequest is the chat endpoint input.
type ChatRequest struct {
	Query           string `json:"query"`
	SessionID       string `json:"sessionId"`
	NumberOfResults int    `json:"numberOfResults"`
	Language        string `json:"language"`
}

// Validate checks the request and applies defaults. Called before any
// streaming begins; a failure here produces a synchronous 400 and nothing
// else happens.
func (r *ChatRequest) Validate(defaults int) error {
	r.Query = strings.TrimSpace(r.Query)
	if r.NumberOfResults == 0 {
		r.NumberOfResults = defaults
	}
	if r.Language == "" {
		r.Language = domain.LanguageEnglish
	}

	return validation.ValidateStruct(r,
		validation.Field(&r.Query, validation.Required),
		validation.Field(&r.NumberOfResults, validation.Min(1)),
		validation.Field(&r.Language,
			validation.In(domain.LanguageEnglish, domain.LanguageSpanish),
		),
	)
}

// ChatService is the streaming chat relay: it delegates a query to the
// retrieval-augmented generation backend, re-frames the incremental output as
// client events, and guarantees the exchange is durably logged once.
type ChatService struct {
	kb     kb.Client
	store  ConversationWriter
	cfg    *config.Config
	logger *slog.Logger
}

// NewChatService creates the relay.
func NewChatService(client kb.Client, store ConversationWriter, cfg *config.Config, logger *slog.Logger) *ChatService {
	return &ChatService{
		kb:     client,
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// Stream runs one chat turn. The request must already be validated. All
// failures after this point are reported in-band through the sink: the caller
// has committed to a 200 event-stream response. The stream always ends with
// exactly one done or error event (unless the client is gone), and exactly
// one conversation record is persisted on every exit path.
func (s *ChatService) Stream(ctx context.Context, req *ChatRequest, sink EventSink) {
	start := time.Now()
	rec := domain.NewConversationRecord(
		uuid.New().String(),
		req.Query,
		req.SessionID,
		req.Language,
		s.cfg.ModelARN,
		start,
	)

	var answer strings.Builder
	var citations []domain.Citation
	var guardrail string

	// Finalize runs on every exit: normal return, upstream error, client
	// disconnect, panic. It is the only place a record is written.
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("panic during chat stream",
				"conversation_id", rec.ConversationID,
				"panic", p,
			)
			_ = sink.Emit(domain.EventError, domain.ErrorEvent{Error: "internal error"})
		}
		s.finalize(ctx, rec, answer.String(), citations, guardrail, start)
	}()

	if err := sink.Emit(domain.EventConversationID, domain.ConversationIDEvent{ConversationID: rec.ConversationID}); err != nil {
		return
	}

	sessionID := req.SessionID
	for attempt := 0; ; attempt++ {
		err := s.relay(ctx, req, sessionID, rec, sink, &answer, &citations, &guardrail)
		if err == nil {
			elapsed := time.Since(start).Milliseconds()
			rec.ResponseTimeMs = elapsed
			_ = sink.Emit(domain.EventDone, domain.DoneEvent{
				Status:         domain.DoneStatusComplete,
				ConversationID: rec.ConversationID,
				ResponseTimeMs: elapsed,
			})
			return
		}

		// Cancellation of the request context is the client hanging up, seen
		// through the upstream call rather than a failed event write.
		if errors.Is(err, errClientGone) || errors.Is(err, context.Canceled) {
			s.logger.Info("client disconnected mid-stream",
				"conversation_id", rec.ConversationID,
				"answer_bytes", answer.Len(),
			)
			return
		}

		// A rejected continuity token is the one recoverable failure:
		// surface it, drop the session and retry the same query exactly
		// once. Only applies before any answer text reached the client.
		if kb.IsSessionExpired(err) && sessionID != "" && attempt == 0 && answer.Len() == 0 {
			s.logger.Warn("session rejected by upstream, retrying without session",
				"conversation_id", rec.ConversationID,
			)
			if emitErr := sink.Emit(domain.EventSessionExpired, domain.SessionExpiredEvent{
				Message: "session expired, starting a new session",
			}); emitErr != nil {
				return
			}
			sessionID = ""
			rec.SessionID = ""
			citations = nil
			guardrail = ""
			continue
		}

		s.logger.Error("upstream generation failed",
			"conversation_id", rec.ConversationID,
			"error", err,
		)
		_ = sink.Emit(domain.EventError, domain.ErrorEvent{Error: userFacingError(err)})
		return
	}
}

// relay performs one upstream call and forwards its stream. Returns nil on a
// fully consumed stream (citations and guardrail already emitted),
// errClientGone if the sink went away, or the upstream error otherwise.
func (s *ChatService) relay(
	ctx context.Context,
	req *ChatRequest,
	sessionID string,
	rec *domain.ConversationRecord,
	sink EventSink,
	answer *strings.Builder,
	citations *[]domain.Citation,
	guardrail *string,
) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	defer cancel()

	stream, err := s.kb.RetrieveAndGenerateStream(ctx, &kb.Request{
		Query:           req.Query,
		SessionID:       sessionID,
		NumberOfResults: req.NumberOfResults,
		PromptTemplate:  kb.PromptTemplate(req.Language),
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	if sid := stream.SessionID(); sid != "" {
		rec.SessionID = sid
		if err := sink.Emit(domain.EventSessionID, domain.SessionIDEvent{SessionID: sid}); err != nil {
			return errClientGone
		}
	}

	for ev := range stream.Events() {
		switch ev.Kind {
		case kb.EventText:
			// The answer is accumulated before the write so a disconnect
			// never loses a fragment from the persisted record.
			answer.WriteString(ev.Text)
			if err := sink.Emit(domain.EventText, domain.TextEvent{Text: ev.Text}); err != nil {
				return errClientGone
			}
		case kb.EventCitation:
			*citations = append(*citations, ev.Citation)
		case kb.EventGuardrail:
			*guardrail = ev.Guardrail
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}

	// Trailing metadata, after all text, never interleaved with it.
	if len(*citations) > 0 {
		if err := sink.Emit(domain.EventCitations, domain.CitationsEvent{Citations: *citations}); err != nil {
			return errClientGone
		}
	}
	if *guardrail != "" {
		if err := sink.Emit(domain.EventGuardrail, domain.GuardrailEvent{Action: *guardrail}); err != nil {
			return errClientGone
		}
	}

	return nil
}

// finalize persists the conversation record exactly once. A persistence
// failure is logged and absorbed: it must never alter what was already sent
// to the client.
func (s *ChatService) finalize(
	ctx context.Context,
	rec *domain.ConversationRecord,
	answer string,
	citations []domain.Citation,
	guardrail string,
	start time.Time,
) {
	rec.Answer = answer
	rec.AnswerLength = len(answer)
	rec.Citations = citations
	rec.CitationCount = len(citations)
	rec.GuardrailAction = guardrail
	if rec.ResponseTimeMs == 0 {
		rec.ResponseTimeMs = time.Since(start).Milliseconds()
	}

	// Detached from the request context: a client disconnect must not
	// cancel the log write.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := s.store.Put(pctx, rec); err != nil {
		s.logger.Error("failed to persist conversation",
			"conversation_id", rec.ConversationID,
			"error", err,
		)
		return
	}

	s.logger.Info("conversation persisted",
		"conversation_id", rec.ConversationID,
		"session_id", rec.SessionID,
		"response_time_ms", rec.ResponseTimeMs,
		"answer_length", rec.AnswerLength,
		"citation_count", rec.CitationCount,
	)
}

// userFacingError reduces upstream failures to a stable client message;
// raw backend errors stay in the logs.
func userFacingError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "the response took too long to generate, please try again"
	}
	return fmt.Sprintf("failed to generate a response: %v", err)
}
