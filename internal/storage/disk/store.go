// Package disk stores blobs as files under a root directory and serves them over HTTP.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"Huddle/internal/core/blobstore"
)

// metaSuffix names the sidecar file holding a blob's metadata
const metaSuffix = ".meta.json"

var (
	// ErrInvalidRoot is returned when the root directory is empty
	ErrInvalidRoot = errors.New("disk store root cannot be empty")
	// ErrInvalidBaseURL is returned when the public base URL is empty
	ErrInvalidBaseURL = errors.New("disk store base URL cannot be empty")
)

// Store implements blobstore.Store on the local filesystem.
// Layout: {root}/{blob path} with {root}/{blob path}.meta.json beside it.
type Store struct {
	root    string
	baseURL string
}

type sidecar struct {
	Custom      map[string]string `json:"custom,omitempty"`
	ContentType string            `json:"contentType"`
}

// NewStore creates the root directory if needed. baseURL is the public prefix the
// Handler is mounted under, e.g. http://localhost:8080/media.
func NewStore(root, baseURL string) (*Store, error) {
	if root == "" {
		return nil, ErrInvalidRoot
	}
	if baseURL == "" {
		return nil, ErrInvalidBaseURL
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, mapErr(fmt.Errorf("failed to create media root: %w", err))
	}
	return &Store{root: root, baseURL: baseURL}, nil
}

func (s *Store) filePath(p string) (string, error) {
	clean, err := blobstore.CleanPath(p)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(clean, metaSuffix) {
		return "", blobstore.ErrInvalidPath
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put writes the blob atomically: temp file in the target directory, then rename
func (s *Store) Put(ctx context.Context, p string, data []byte, meta blobstore.Metadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path, err := s.filePath(p)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", mapErr(err)
	}

	metaBytes, err := json.Marshal(sidecar{ContentType: meta.ContentType, Custom: meta.Custom})
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := writeAtomic(path+metaSuffix, metaBytes); err != nil {
		return "", mapErr(err)
	}
	if err := writeAtomic(path, data); err != nil {
		_ = os.Remove(path + metaSuffix)
		return "", mapErr(err)
	}

	return blobstore.JoinURL(s.baseURL, strings.TrimLeft(p, "/")), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// Delete removes the blob and its metadata
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.filePath(p)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return mapErr(err)
	}
	if err := os.Remove(path + metaSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("[MEDIA] failed to remove blob metadata", "path", p, "error", err)
	}
	return nil
}

// Handler serves stored blobs with their recorded content type. Mount it with the
// base URL prefix stripped.
func (s *Store) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path, err := s.filePath(r.URL.Path)
		if err != nil {
			http.NotFound(w, r)
			return
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		if raw, err := os.ReadFile(path + metaSuffix); err == nil {
			var meta sidecar
			if json.Unmarshal(raw, &meta) == nil && meta.ContentType != "" {
				w.Header().Set("Content-Type", meta.ContentType)
			}
		}
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		http.ServeFile(w, r, path)
	})
}

// mapErr converts filesystem errors to blob store sentinels
func mapErr(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", blobstore.ErrPermissionDenied, err)
	default:
		return err
	}
}
