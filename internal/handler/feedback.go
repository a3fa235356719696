package handler

import (
	"log/slog"
	"net/http"

	"docent/internal/httputil"
	"docent/internal/service"
)

// FeedbackHandler serves the feedback submission endpoint.
type FeedbackHandler struct {
	feedback *service.FeedbackService
	logger   *slog.Logger
}

// NewFeedbackHandler creates a feedback handler.
func NewFeedbackHandler(feedback *service.FeedbackService, logger *slog.Logger) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback, logger: logger}
}

// Submit handles POST /api/feedback.
func (h *FeedbackHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req service.FeedbackRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.feedback.Submit(r.Context(), &req); err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"conversationId": req.ConversationID,
		"feedback":       req.Feedback,
	})
}
