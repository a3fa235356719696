package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"docent/internal/config"
	"docent/internal/domain"
	"docent/internal/kb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		ModelARN:       "test-model",
		StreamTimeout:  5 * time.Second,
		DefaultResults: 5,
	}
}

// recordedEvent is one sink emission captured during a test run.
type recordedEvent struct {
	name    string
	payload any
}

// recordingSink captures the event stream; failAfter simulates a client
// disconnect by failing every write once that many events were accepted.
type recordingSink struct {
	events    []recordedEvent
	failAfter int
}

func (s *recordingSink) Emit(event string, payload any) error {
	if s.failAfter > 0 && len(s.events) >= s.failAfter {
		return errors.New("broken pipe")
	}
	s.events = append(s.events, recordedEvent{name: event, payload: payload})
	return nil
}

func (s *recordingSink) names() []string {
	names := make([]string, len(s.events))
	for i, ev := range s.events {
		names[i] = ev.name
	}
	return names
}

// fakeStream replays a scripted event sequence.
type fakeStream struct {
	sessionID string
	events    []kb.Event
	err       error
	closed    bool
}

func (s *fakeStream) SessionID() string { return s.sessionID }

func (s *fakeStream) Events() <-chan kb.Event {
	ch := make(chan kb.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeKB returns scripted streams or errors, one per call.
type fakeKB struct {
	calls    []*kb.Request
	streams  []*fakeStream
	errs     []error
	nextCall int
}

func (f *fakeKB) RetrieveAndGenerateStream(ctx context.Context, req *kb.Request) (kb.Stream, error) {
	reqCopy := *req
	f.calls = append(f.calls, &reqCopy)
	i := f.nextCall
	f.nextCall++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.streams[i], nil
}

// memoryStore records every Put.
type memoryStore struct {
	records []*domain.ConversationRecord
	err     error
}

func (m *memoryStore) Put(ctx context.Context, rec *domain.ConversationRecord) error {
	if m.err != nil {
		return m.err
	}
	recCopy := *rec
	m.records = append(m.records, &recCopy)
	return nil
}

func textEvent(text string) kb.Event {
	return kb.Event{Kind: kb.EventText, Text: text}
}

func citationEvent(uri string) kb.Event {
	return kb.Event{Kind: kb.EventCitation, Citation: domain.Citation{
		RetrievedReferences: []domain.RetrievedReference{{
			Location: domain.ReferenceLocation{Type: domain.LocationTypeS3, URI: uri},
		}},
	}}
}

func TestChatRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{name: "valid", req: ChatRequest{Query: "when does the museum open?"}},
		{name: "blank query", req: ChatRequest{Query: "   "}, wantErr: true},
		{name: "empty query", req: ChatRequest{}, wantErr: true},
		{name: "spanish", req: ChatRequest{Query: "hola", Language: "es"}},
		{name: "unsupported language", req: ChatRequest{Query: "hi", Language: "fr"}, wantErr: true},
		{name: "negative results", req: ChatRequest{Query: "hi", NumberOfResults: -3}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate(5)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatRequestValidateAppliesDefaults(t *testing.T) {
	req := ChatRequest{Query: "  hello  "}
	if err := req.Validate(7); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if req.Query != "hello" {
		t.Errorf("query not trimmed: %q", req.Query)
	}
	if req.NumberOfResults != 7 {
		t.Errorf("NumberOfResults = %d, want 7", req.NumberOfResults)
	}
	if req.Language != domain.LanguageEnglish {
		t.Errorf("Language = %q, want en", req.Language)
	}
}

func TestStreamHappyPath(t *testing.T) {
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "sess-1",
		events: []kb.Event{
			textEvent("The museum "),
			textEvent("opens at 9."),
			citationEvent("s3://docs/hours.pdf"),
			{Kind: kb.EventGuardrail, Guardrail: "NONE"},
		},
	}}}
	store := &memoryStore{}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "when does it open?"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	want := []string{
		domain.EventConversationID,
		domain.EventSessionID,
		domain.EventText,
		domain.EventText,
		domain.EventCitations,
		domain.EventGuardrail,
		domain.EventDone,
	}
	got := sink.names()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", got, want)
	}

	if len(store.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(store.records))
	}
	rec := store.records[0]
	if rec.Answer != "The museum opens at 9." {
		t.Errorf("persisted answer = %q", rec.Answer)
	}
	if rec.SessionID != "sess-1" {
		t.Errorf("persisted session = %q, want sess-1", rec.SessionID)
	}
	if rec.CitationCount != 1 || len(rec.Citations) != 1 {
		t.Errorf("citation count = %d (%d stored)", rec.CitationCount, len(rec.Citations))
	}
	if rec.GuardrailAction != "NONE" {
		t.Errorf("guardrail = %q", rec.GuardrailAction)
	}
	if rec.AnswerLength != len(rec.Answer) {
		t.Errorf("answerLength = %d, want %d", rec.AnswerLength, len(rec.Answer))
	}

	done, ok := sink.events[len(sink.events)-1].payload.(domain.DoneEvent)
	if !ok {
		t.Fatalf("last payload is %T, want DoneEvent", sink.events[len(sink.events)-1].payload)
	}
	if done.Status != domain.DoneStatusComplete {
		t.Errorf("done status = %q", done.Status)
	}
	if done.ConversationID != rec.ConversationID {
		t.Errorf("done conversationId = %q, record = %q", done.ConversationID, rec.ConversationID)
	}
}

func TestStreamSessionExpiredRetriesOnce(t *testing.T) {
	backend := &fakeKB{
		errs: []error{fmt.Errorf("upstream: %w", kb.ErrSessionExpired), nil},
		streams: []*fakeStream{nil, {
			sessionID: "fresh-sess",
			events:    []kb.Event{textEvent("answer")},
		}},
	}
	store := &memoryStore{}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi", SessionID: "stale-sess"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	want := []string{
		domain.EventConversationID,
		domain.EventSessionExpired,
		domain.EventSessionID,
		domain.EventText,
		domain.EventDone,
	}
	if fmt.Sprint(sink.names()) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", sink.names(), want)
	}

	if len(backend.calls) != 2 {
		t.Fatalf("upstream called %d times, want 2", len(backend.calls))
	}
	if backend.calls[0].SessionID != "stale-sess" {
		t.Errorf("first call session = %q", backend.calls[0].SessionID)
	}
	if backend.calls[1].SessionID != "" {
		t.Errorf("retry carried session %q, want empty", backend.calls[1].SessionID)
	}

	if len(store.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(store.records))
	}
	if store.records[0].SessionID != "fresh-sess" {
		t.Errorf("persisted session = %q, want fresh-sess", store.records[0].SessionID)
	}
}

func TestStreamSessionExpiredWithoutSessionFails(t *testing.T) {
	// No session on the request: the expiry error is not recoverable.
	backend := &fakeKB{errs: []error{kb.ErrSessionExpired}}
	store := &memoryStore{}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	want := []string{domain.EventConversationID, domain.EventError}
	if fmt.Sprint(sink.names()) != fmt.Sprint(want) {
		t.Fatalf("event order = %v, want %v", sink.names(), want)
	}
	if len(backend.calls) != 1 {
		t.Errorf("upstream called %d times, want 1", len(backend.calls))
	}
	if len(store.records) != 1 {
		t.Errorf("persisted %d records, want 1", len(store.records))
	}
}

func TestStreamSessionExpiredAfterTextIsTerminal(t *testing.T) {
	// Expiry surfacing mid-answer (stream error after text) must not retry:
	// the client already rendered partial output.
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "sess-1",
		events:    []kb.Event{textEvent("partial ")},
		err:       kb.ErrSessionExpired,
	}}}
	store := &memoryStore{}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi", SessionID: "sess-1"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	got := sink.names()
	if got[len(got)-1] != domain.EventError {
		t.Fatalf("terminal event = %q, want error (events: %v)", got[len(got)-1], got)
	}
	if len(backend.calls) != 1 {
		t.Errorf("upstream called %d times, want 1", len(backend.calls))
	}
	if store.records[0].Answer != "partial " {
		t.Errorf("persisted answer = %q, want partial fragment", store.records[0].Answer)
	}
}

func TestStreamUpstreamErrorPersistsPartial(t *testing.T) {
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "sess-1",
		events:    []kb.Event{textEvent("half an ans")},
		err:       errors.New("throttled"),
	}}}
	store := &memoryStore{}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	got := sink.names()
	terminal := 0
	for _, name := range got {
		if name == domain.EventDone || name == domain.EventError {
			terminal++
		}
	}
	if terminal != 1 || got[len(got)-1] != domain.EventError {
		t.Fatalf("want exactly one trailing error event, got %v", got)
	}

	if len(store.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(store.records))
	}
	if store.records[0].Answer != "half an ans" {
		t.Errorf("persisted answer = %q", store.records[0].Answer)
	}
}

func TestStreamClientDisconnectStillPersists(t *testing.T) {
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "sess-1",
		events:    []kb.Event{textEvent("one "), textEvent("two "), textEvent("three")},
	}}}
	store := &memoryStore{}
	// Accept conversationId, sessionId and the first text write, then fail.
	sink := &recordingSink{failAfter: 3}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	for _, name := range sink.names() {
		if name == domain.EventDone || name == domain.EventError {
			t.Fatalf("terminal event %q sent to a disconnected client", name)
		}
	}

	if len(store.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(store.records))
	}
	// The fragment that failed to send is still part of the durable answer.
	if store.records[0].Answer != "one two " {
		t.Errorf("persisted answer = %q, want %q", store.records[0].Answer, "one two ")
	}
}

func TestStreamContextCanceledIsQuiet(t *testing.T) {
	// A hung-up client surfaces as context.Canceled from the upstream call.
	// No terminal event goes out, but the turn is still persisted.
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "sess-1",
		events:    []kb.Event{textEvent("partial ")},
		err:       context.Canceled,
	}}}
	store := &memoryStore{}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	for _, name := range sink.names() {
		if name == domain.EventDone || name == domain.EventError {
			t.Fatalf("terminal event %q sent after cancellation", name)
		}
	}
	if len(backend.calls) != 1 {
		t.Errorf("upstream called %d times, want 1", len(backend.calls))
	}
	if len(store.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(store.records))
	}
	if store.records[0].Answer != "partial " {
		t.Errorf("persisted answer = %q", store.records[0].Answer)
	}
}

func TestStreamPersistenceFailureIsAbsorbed(t *testing.T) {
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "sess-1",
		events:    []kb.Event{textEvent("fine")},
	}}}
	store := &memoryStore{err: errors.New("table unavailable")}
	sink := &recordingSink{}

	svc := NewChatService(backend, store, testConfig(), testLogger())
	req := &ChatRequest{Query: "hi"}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, sink)

	got := sink.names()
	if got[len(got)-1] != domain.EventDone {
		t.Fatalf("terminal event = %q, want done despite store failure", got[len(got)-1])
	}
}

func TestStreamLanguageSelectsPromptTemplate(t *testing.T) {
	backend := &fakeKB{streams: []*fakeStream{{
		sessionID: "s",
		events:    []kb.Event{textEvent("hola")},
	}}}
	svc := NewChatService(backend, &memoryStore{}, testConfig(), testLogger())

	req := &ChatRequest{Query: "hola", Language: domain.LanguageSpanish}
	if err := req.Validate(5); err != nil {
		t.Fatal(err)
	}
	svc.Stream(context.Background(), req, &recordingSink{})

	if len(backend.calls) != 1 {
		t.Fatalf("upstream called %d times", len(backend.calls))
	}
	if !strings.Contains(backend.calls[0].PromptTemplate, "$search_results$") {
		t.Errorf("prompt template missing search results placeholder")
	}
	if backend.calls[0].PromptTemplate != kb.PromptTemplate(domain.LanguageSpanish) {
		t.Errorf("spanish request did not select the spanish template")
	}
}

func TestUserFacingError(t *testing.T) {
	if msg := userFacingError(context.DeadlineExceeded); !strings.Contains(msg, "too long") {
		t.Errorf("timeout message = %q", msg)
	}
	if msg := userFacingError(errors.New("boom")); !strings.Contains(msg, "boom") {
		t.Errorf("generic message = %q", msg)
	}
}
