package blobstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrPermissionDenied is returned when the caller may not write or delete the blob.
	// Kept distinct from other failures so best-effort cleanup can log it at a lower level.
	ErrPermissionDenied = errors.New("blob store permission denied")

	// ErrNotFound is returned when deleting a path that holds no blob
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidPath is returned for empty paths or paths escaping the store root
	ErrInvalidPath = errors.New("invalid blob path")
)

// Metadata travels with an uploaded blob
type Metadata struct {
	Custom      map[string]string
	ContentType string
}

// Store is the blob storage boundary
type Store interface {
	// Put uploads data to path and returns a publicly fetchable URL
	Put(ctx context.Context, path string, data []byte, meta Metadata) (string, error)

	// Delete removes the blob stored at path
	Delete(ctx context.Context, path string) error
}

// CleanPath validates a logical blob path and returns it without leading slashes.
// Paths are slash-separated and may not contain "..", empty or dot segments.
func CleanPath(p string) (string, error) {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsRune(seg, '\\') {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}

// JoinURL appends an escaped blob path to a base URL.
// Format: {baseURL}/{path segments, each path-escaped}
func JoinURL(baseURL, p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.Join(segs, "/")
}
