package post

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"Huddle/internal/api/middleware"
	"Huddle/internal/core/media"
	"Huddle/internal/core/posts"
)

const (
	// multipartMemory is how much of the form is kept in memory before spilling to disk
	multipartMemory = 1 << 20
	// formOverhead is allowed on top of the media limit for the other form fields
	formOverhead = 64 << 10
)

// CreateHandler handles post creation requests
type CreateHandler struct {
	repo     posts.Repository
	tempDir  string
	maxBytes int64
}

// NewCreateHandler creates a new create handler.
// maxMediaBytes bounds the uploaded file; tempDir may be empty to use the OS default.
func NewCreateHandler(repo posts.Repository, maxMediaBytes int64, tempDir string) *CreateHandler {
	return &CreateHandler{
		repo:     repo,
		maxBytes: maxMediaBytes + formOverhead,
		tempDir:  tempDir,
	}
}

type createPostResponse struct {
	ID string `json:"id"`
}

// HandleCreate handles POST /api/posts
// Form fields: content (text), media (optional file)
func (h *CreateHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if middleware.GetUser(r) == nil {
		writeError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required", posts.OutcomeRejected)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge",
				"Request body too large", posts.OutcomeRejected)
			return
		}
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Invalid multipart form", posts.OutcomeRejected)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("[POST-CREATE] failed to remove multipart temp files", "error", err)
		}
	}()

	req := posts.CreatePostRequest{Content: r.FormValue("content")}

	file, header, err := r.FormFile("media")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Invalid media field", posts.OutcomeRejected)
		return
	default:
		defer file.Close()
		local, cleanup, spoolErr := h.spool(file, header)
		if spoolErr != nil {
			slog.Error("[POST-CREATE] failed to spool upload", "error", spoolErr)
			writeError(w, http.StatusInternalServerError, "InternalServerError",
				"An internal error occurred", posts.OutcomeFailed)
			return
		}
		defer cleanup()
		req.Media = local
	}

	id, err := h.repo.Create(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// The post shows up in the feed with the next snapshot
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(createPostResponse{ID: id}); err != nil {
		slog.Error("[POST-CREATE] failed to encode response", "error", err)
	}
}

// spool copies the uploaded part into a temp file the media pipeline can read as a local file
func (h *CreateHandler) spool(file multipart.File, header *multipart.FileHeader) (*media.LocalFile, func(), error) {
	tmp, err := os.CreateTemp(h.tempDir, "upload-*")
	if err != nil {
		return nil, nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("[POST-CREATE] failed to remove spooled upload", "path", tmp.Name(), "error", err)
		}
	}

	n, err := io.Copy(tmp, file)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("write temp file: %w", err)
	}

	declared := header.Header.Get("Content-Type")
	if declared == "" || declared == "application/octet-stream" {
		// Some clients omit the part type; fall back to sniffing
		if mt, err := mimetype.DetectFile(tmp.Name()); err == nil {
			declared = mt.String()
		}
	}

	return &media.LocalFile{
		URI:       tmp.Name(),
		MimeType:  declared,
		Name:      header.Filename,
		SizeBytes: n,
	}, cleanup, nil
}
