package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"docent/internal/httputil"
	"docent/internal/service"
)

// AdminHandler serves the dashboard analytics endpoints.
type AdminHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(admin *service.AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func rangeQuery(r *http.Request) service.RangeQuery {
	return service.RangeQuery{
		Days:      queryInt(r, "days", 0),
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
	}
}

// GetStats handles GET /api/admin/stats.
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context(), rangeQuery(r))
	if err != nil {
		h.logger.Error("stats query failed", "error", err)
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, stats)
}

// ListConversations handles GET /api/admin/conversations.
func (h *AdminHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListConversations(r.Context(), service.ListQuery{
		Feedback:  r.URL.Query().Get("feedback"),
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
		Limit:     queryInt(r, "limit", 20),
		Offset:    queryInt(r, "offset", 0),
	})
	if err != nil {
		h.logger.Error("conversation listing failed", "error", err)
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, list)
}

// GetConversation handles GET /api/admin/conversations/{id}.
func (h *AdminHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.admin.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, rec)
}

// GetFeedbackSummary handles GET /api/admin/feedback-summary.
func (h *AdminHandler) GetFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.admin.FeedbackSummary(r.Context(), rangeQuery(r))
	if err != nil {
		h.logger.Error("feedback summary failed", "error", err)
		respondDomainError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, summary)
}
