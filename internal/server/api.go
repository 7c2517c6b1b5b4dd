package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mvaleev/reelchat/internal/domain"
	"github.com/mvaleev/reelchat/internal/store"
)

// APIHandler handles conversation REST endpoints.
type APIHandler struct {
	repo   store.Repository
	logger *slog.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(repo store.Repository, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{repo: repo, logger: logger}
}

// RegisterRoutes registers conversation routes.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", h.ListConversations)
		r.Get("/{id}", h.GetConversation)
		r.Delete("/{id}", h.DeleteConversation)
	})
}

// ListConversations returns all conversation summaries, newest update first.
func (h *APIHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.repo.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	if convs == nil {
		convs = []*domain.Conversation{}
	}
	JSON(w, http.StatusOK, convs)
}

// GetConversation returns one conversation with its messages in arrival order.
func (h *APIHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	JSON(w, http.StatusOK, conv)
}

// DeleteConversation removes a conversation and its messages.
func (h *APIHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	if err := h.repo.DeleteConversation(r.Context(), id); err != nil {
		h.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
