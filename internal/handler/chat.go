package handler

import (
	"log/slog"
	"net/http"
	"time"

	"docent/internal/handler/sse"
	"docent/internal/httputil"
	"docent/internal/service"
)

// ChatHandler serves the streaming chat endpoint.
type ChatHandler struct {
	chat              *service.ChatService
	defaultResults    int
	keepAliveInterval time.Duration
	logger            *slog.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chat *service.ChatService, defaultResults int, keepAliveInterval time.Duration, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:              chat,
		defaultResults:    defaultResults,
		keepAliveInterval: keepAliveInterval,
		logger:            logger,
	}
}

// Chat handles POST /api/chat.
//
// Validation failures are rejected synchronously with a 400 before any
// stream opens. Once the SSE stream is committed, all outcomes (including
// upstream failures) are delivered in-band as events.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req service.ChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(h.defaultResults); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("response writer does not support streaming")
		httputil.RespondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("chat request",
		"query_length", len(req.Query),
		"has_session", req.SessionID != "",
		"language", req.Language,
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	writer := sse.NewWriter(w, flusher)

	// Keep-alive comments cover generation pauses longer than proxy idle
	// timeouts. The writer is mutex-guarded, so the ticker goroutine and
	// the relay can interleave safely.
	keepAlive := sse.NewTickerKeepAlive(h.keepAliveInterval)
	keepAlive.Start(writer, h.logger)
	defer keepAlive.Stop()

	h.chat.Stream(r.Context(), &req, writer)
}

// Health handles GET /health.
func (h *ChatHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
