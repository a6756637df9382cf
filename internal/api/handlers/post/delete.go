package post

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"Huddle/internal/api/middleware"
	"Huddle/internal/core/posts"
)

// DeleteHandler handles post deletion requests
type DeleteHandler struct {
	repo posts.Repository
}

// NewDeleteHandler creates a new handler for deleting posts
func NewDeleteHandler(repo posts.Repository) *DeleteHandler {
	return &DeleteHandler{repo: repo}
}

// HandleDelete handles DELETE /api/posts/{id}
//
// Response: {"postId": "...", "mediaCleanup": "skipped|deleted|denied|failed"}
// A cleanup status other than deleted/skipped still means the post is gone.
func (h *DeleteHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUser(r) == nil {
		writeError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required", posts.OutcomeRejected)
		return
	}

	postID := chi.URLParam(r, "id")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "post id is required", posts.OutcomeRejected)
		return
	}

	result, err := h.repo.Delete(r.Context(), postID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Error("[POST-DELETE] failed to encode response", "error", err)
	}
}
