package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"docent/internal/domain"
)

// FeedbackStore is the conversation store as seen by the feedback endpoint:
// locate a record, then mutate its feedback fields.
type FeedbackStore interface {
	GetByID(ctx context.Context, conversationID string) (*domain.ConversationRecord, error)
	SetFeedback(ctx context.Context, conversationID, timestamp, feedback, feedbackTs string) error
}

// FeedbackRequest is the feedback endpoint input.
type FeedbackRequest struct {
	ConversationID string `json:"conversationId"`
	Feedback       string `json:"feedback"`
}

// Validate checks the request and normalizes the feedback value to pos/neg.
// Several client spellings are accepted for compatibility with older
// frontend builds.
func (r *FeedbackRequest) Validate() error {
	switch r.Feedback {
	case "positive", "+", "up":
		r.Feedback = domain.FeedbackPositive
	case "negative", "-", "down":
		r.Feedback = domain.FeedbackNegative
	}

	return validation.ValidateStruct(r,
		validation.Field(&r.ConversationID, validation.Required),
		validation.Field(&r.Feedback,
			validation.Required,
			validation.In(domain.FeedbackPositive, domain.FeedbackNegative),
		),
	)
}

// FeedbackService attaches visitor sentiment to persisted conversations.
type FeedbackService struct {
	store  FeedbackStore
	logger *slog.Logger
}

// NewFeedbackService creates a feedback service.
func NewFeedbackService(store FeedbackStore, logger *slog.Logger) *FeedbackService {
	return &FeedbackService{store: store, logger: logger}
}

// Submit records feedback for a conversation. Returns ErrNotFound when the
// conversation does not exist and ErrValidation for malformed input.
func (s *FeedbackService) Submit(ctx context.Context, req *FeedbackRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	rec, err := s.store.GetByID(ctx, req.ConversationID)
	if err != nil {
		return err
	}

	feedbackTs := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.store.SetFeedback(ctx, rec.ConversationID, rec.Timestamp, req.Feedback, feedbackTs); err != nil {
		return err
	}

	s.logger.Info("feedback submitted",
		"conversation_id", req.ConversationID,
		"feedback", req.Feedback,
	)

	return nil
}
