package domain

import "time"

// Supported response languages
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
)

// Feedback values as stored on a conversation record
const (
	FeedbackPositive = "pos"
	FeedbackNegative = "neg"
)

// ConversationRecord is the durable log entry for one question/answer turn.
// Exactly one record is written per chat request that begins streaming,
// whether the stream ended in success or error. The feedback fields are
// mutated later by the feedback endpoint, never by the relay itself.
type ConversationRecord struct {
	ConversationID  string     `json:"conversationId"`
	SessionID       string     `json:"sessionId,omitempty"`
	Timestamp       string     `json:"timestamp"`
	Date            string     `json:"date"`
	Question        string     `json:"question"`
	Answer          string     `json:"answer"`
	Citations       []Citation `json:"citations,omitempty"`
	CitationCount   int        `json:"citationCount"`
	GuardrailAction string     `json:"guardrailAction,omitempty"`
	Feedback        string     `json:"feedback,omitempty"`
	FeedbackTs      string     `json:"feedbackTs,omitempty"`
	ResponseTimeMs  int64      `json:"responseTimeMs"`
	Language        string     `json:"language"`
	ModelID         string     `json:"modelId,omitempty"`
	QuestionLength  int        `json:"questionLength"`
	AnswerLength    int        `json:"answerLength"`
}

// NewConversationRecord creates a record stamped with the given creation time.
// The date field is the calendar-day projection used by the analytics indexes.
func NewConversationRecord(conversationID, question, sessionID, language, modelID string, now time.Time) *ConversationRecord {
	now = now.UTC()
	return &ConversationRecord{
		ConversationID: conversationID,
		SessionID:      sessionID,
		Timestamp:      now.Format(time.RFC3339Nano),
		Date:           now.Format("2006-01-02"),
		Question:       question,
		Language:       language,
		ModelID:        modelID,
		QuestionLength: len(question),
	}
}

// Citation is a supporting reference returned by the generation backend
// alongside an answer. The relay passes the structure through untouched; only
// the location fields it branches on are strongly typed, everything else is
// an opaque bag dictated by the upstream service.
type Citation struct {
	RetrievedReferences []RetrievedReference `json:"retrievedReferences"`
}

// RetrievedReference points at one retrieved source passage.
type RetrievedReference struct {
	Content  ReferenceContent  `json:"content"`
	Location ReferenceLocation `json:"location"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// ReferenceContent carries the retrieved passage text.
type ReferenceContent struct {
	Text string `json:"text,omitempty"`
}

// Location types reported by the knowledge base
const (
	LocationTypeS3  = "S3"
	LocationTypeWeb = "WEB"
)

// ReferenceLocation identifies where a reference came from: an object-storage
// URI for ingested documents or a web URL for crawled pages.
type ReferenceLocation struct {
	Type string `json:"type"`
	URI  string `json:"uri,omitempty"`
	URL  string `json:"url,omitempty"`
}

// UserRecord is a visitor contact record captured by the signup form.
type UserRecord struct {
	UserID          string `json:"userId"`
	CreatedAt       string `json:"createdAt"`
	FirstName       string `json:"firstName,omitempty"`
	LastName        string `json:"lastName,omitempty"`
	Email           string `json:"email,omitempty"`
	PhoneNumber     string `json:"phoneNumber,omitempty"`
	SupportQuestion string `json:"supportQuestion,omitempty"`
}
