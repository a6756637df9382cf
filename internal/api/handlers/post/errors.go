package post

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"Huddle/internal/core/media"
	"Huddle/internal/core/posts"
)

type errorResponse struct {
	Error   string        `json:"error"`
	Message string        `json:"message"`
	Outcome posts.Outcome `json:"outcome,omitempty"`
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, errorType, message string, outcome posts.Outcome) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error:   errorType,
		Message: message,
		Outcome: outcome,
	}); err != nil {
		slog.Error("[POST] failed to encode error response", "error", err)
	}
}

// handleServiceError maps repository and media errors to HTTP responses.
// Every response carries the outcome so clients know whether anything was written.
func handleServiceError(w http.ResponseWriter, err error) {
	outcome := posts.Classify(err)

	var valErr *posts.ValidationError
	switch {
	case errors.Is(err, posts.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required", outcome)

	case errors.Is(err, posts.ErrNotOwner):
		writeError(w, http.StatusForbidden, "NotAuthorized", "Only the author can delete this post", outcome)

	case errors.Is(err, posts.ErrNotFound):
		writeError(w, http.StatusNotFound, "PostNotFound", "Post not found", outcome)

	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, "InvalidRequest", valErr.Message, outcome)

	case posts.IsPartial(err):
		// Blob uploaded, post not written
		slog.Error("[POST-CREATE] partial write", "error", err)
		writeError(w, http.StatusBadGateway, "PartialWrite",
			"Media was uploaded but the post could not be saved", outcome)

	case errors.Is(err, media.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Image is too large", outcome)

	case errors.Is(err, media.ErrUnsupportedMediaType):
		writeError(w, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Only images are supported", outcome)

	case errors.Is(err, media.ErrUnreadableSource):
		writeError(w, http.StatusBadRequest, "InvalidMedia", "Media file could not be read", outcome)

	case errors.Is(err, media.ErrUploadTimeout):
		writeError(w, http.StatusGatewayTimeout, "UploadTimeout", "Reading the media file timed out", outcome)

	case errors.Is(err, media.ErrStorageWriteFailed):
		slog.Error("[POST-CREATE] media storage write failed", "error", err)
		writeError(w, http.StatusBadGateway, "StorageError", "Media could not be stored", outcome)

	default:
		// Don't leak internal error details to clients
		slog.Error("[POST] unexpected error", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred", outcome)
	}
}
