package posts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rivo/uniseg"

	"Huddle/internal/core/blobstore"
	"Huddle/internal/core/docstore"
	"Huddle/internal/core/identity"
	"Huddle/internal/core/media"
)

const (
	// DefaultMaxContentGraphemes caps post text length in user-perceived characters
	DefaultMaxContentGraphemes = 2000

	// DefaultCleanupTimeout bounds the best-effort media delete
	DefaultCleanupTimeout = 15 * time.Second
)

type postRepository struct {
	docs                docstore.Store
	blobs               blobstore.Store
	uploader            media.Uploader
	users               identity.Provider
	collection          string
	defaultAvatar       string
	maxContentGraphemes int
	cleanupTimeout      time.Duration
}

// Option customizes the repository
type Option func(*postRepository)

// WithCollection overrides the posts collection name
func WithCollection(name string) Option {
	return func(r *postRepository) { r.collection = name }
}

// WithDefaultAvatar sets the avatar URL recorded for authors without one
func WithDefaultAvatar(url string) Option {
	return func(r *postRepository) { r.defaultAvatar = url }
}

// WithMaxContentGraphemes overrides the post text limit
func WithMaxContentGraphemes(n int) Option {
	return func(r *postRepository) { r.maxContentGraphemes = n }
}

// WithCleanupTimeout overrides the media cleanup timeout
func WithCleanupTimeout(d time.Duration) Option {
	return func(r *postRepository) { r.cleanupTimeout = d }
}

// NewRepository creates a post repository over explicitly injected backends.
// uploader may be nil when media posts are not supported by the deployment.
func NewRepository(
	docs docstore.Store,
	blobs blobstore.Store,
	uploader media.Uploader, // Optional: can be nil
	users identity.Provider,
	opts ...Option,
) Repository {
	r := &postRepository{
		docs:                docs,
		blobs:               blobs,
		uploader:            uploader,
		users:               users,
		collection:          DefaultCollection,
		maxContentGraphemes: DefaultMaxContentGraphemes,
		cleanupTimeout:      DefaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create writes a new post.
// Flow:
// 1. Require a signed-in user (before any store call)
// 2. Validate content (non-empty unless media, length limit)
// 3. Upload media through the pipeline, aborting on any failure
// 4. Insert the document with the author snapshot; the store assigns id and timestamp
func (r *postRepository) Create(ctx context.Context, req CreatePostRequest) (string, error) {
	user := r.users.CurrentUser(ctx)
	if user == nil || user.ID == "" {
		return "", ErrUnauthenticated
	}

	if err := r.validateCreateRequest(req); err != nil {
		return "", err
	}

	var ref *media.Ref
	if req.Media != nil {
		if r.uploader == nil {
			return "", NewValidationError("media", "media uploads are not enabled")
		}
		uploaded, err := r.uploader.Upload(ctx, *req.Media, user.ID)
		if err != nil {
			slog.Warn("[POST-CREATE] media upload failed",
				"user_id", user.ID,
				"mime_type", req.Media.MimeType,
				"error", err,
			)
			return "", fmt.Errorf("media upload failed: %w", err)
		}
		ref = uploaded
	}

	author := snapshotAuthor(user, r.defaultAvatar)
	doc, err := r.docs.Insert(ctx, r.collection, toFields(req.Content, author, ref))
	if err != nil {
		if ref != nil {
			slog.Error("[POST-CREATE] document write failed after upload, media orphaned",
				"user_id", user.ID,
				"storage_path", ref.StoragePath,
				"error", err,
			)
			return "", &PartialWriteError{OrphanedMedia: ref, Err: err}
		}
		return "", fmt.Errorf("failed to write post: %w", err)
	}

	slog.Info("[POST-CREATE] post created",
		"post_id", doc.ID,
		"user_id", user.ID,
		"has_media", ref != nil,
	)
	return doc.ID, nil
}

func (r *postRepository) validateCreateRequest(req CreatePostRequest) error {
	if strings.TrimSpace(req.Content) == "" && req.Media == nil {
		return NewValidationError("content", "post must have text or an image")
	}
	if r.maxContentGraphemes > 0 {
		if n := uniseg.GraphemeClusterCount(req.Content); n > r.maxContentGraphemes {
			return NewValidationError("content",
				fmt.Sprintf("content is %d characters, maximum is %d", n, r.maxContentGraphemes))
		}
	}
	return nil
}

// Delete removes a post.
// Flow:
// 1. Require a signed-in user
// 2. Read the document: missing -> ErrNotFound
// 3. Ownership check: not the author -> ErrNotOwner (nothing deleted)
// 4. Delete the document (authoritative)
// 5. Best-effort media delete, outcome recorded in the result
func (r *postRepository) Delete(ctx context.Context, postID string) (*DeleteResult, error) {
	user := r.users.CurrentUser(ctx)
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}
	if strings.TrimSpace(postID) == "" {
		return nil, NewValidationError("id", "post id is required")
	}

	doc, err := r.docs.Get(ctx, r.collection, postID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read post: %w", err)
	}

	post, err := fromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode post: %w", err)
	}

	if post.Author.ID != user.ID {
		slog.Warn("[POST-DELETE] rejected delete by non-author",
			"post_id", postID,
			"author_id", post.Author.ID,
			"caller_id", user.ID,
		)
		return nil, ErrNotOwner
	}

	if err := r.docs.Delete(ctx, r.collection, postID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			// Deleted concurrently between the read and the delete
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to delete post: %w", err)
	}

	slog.Info("[POST-DELETE] post deleted", "post_id", postID, "user_id", user.ID)

	result := &DeleteResult{PostID: postID, MediaCleanup: CleanupSkipped}
	if post.Media == nil || post.Media.StoragePath == "" || !media.OwnedBy(post.Media.StoragePath, user.ID) {
		return result, nil
	}
	result.MediaCleanup, result.CleanupErr = r.cleanupMedia(ctx, postID, post.Media.StoragePath)
	return result, nil
}

// cleanupMedia deletes a post's blob. It is detached from the caller's cancellation:
// the post is already gone, and an abandoned request should not orphan its media.
func (r *postRepository) cleanupMedia(ctx context.Context, postID, path string) (CleanupStatus, error) {
	if r.blobs == nil {
		return CleanupSkipped, nil
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cleanupTimeout)
	defer cancel()

	err := r.blobs.Delete(cleanupCtx, path)
	switch {
	case err == nil:
		slog.Info("[POST-DELETE] associated media deleted", "post_id", postID, "path", path)
		return CleanupDeleted, nil
	case errors.Is(err, blobstore.ErrNotFound):
		slog.Info("[POST-DELETE] associated media already gone", "post_id", postID, "path", path)
		return CleanupDeleted, nil
	case errors.Is(err, blobstore.ErrPermissionDenied):
		slog.Warn("[POST-DELETE] not permitted to delete media", "post_id", postID, "path", path, "error", err)
		return CleanupDenied, err
	default:
		slog.Error("[POST-DELETE] failed to delete media", "post_id", postID, "path", path, "error", err)
		return CleanupFailed, err
	}
}

// Subscribe attaches a live query over the collection ordered newest first
func (r *postRepository) Subscribe(ctx context.Context, observer Observer) (Subscription, error) {
	if observer == nil {
		return nil, fmt.Errorf("observer cannot be nil")
	}

	sub := &subscription{observer: observer}
	watch, err := r.docs.Watch(ctx, docstore.Query{Collection: r.collection, Descending: true}, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to posts: %w", err)
	}
	sub.attach(watch)

	slog.Debug("[FEED] subscription attached", "collection", r.collection)
	return sub, nil
}

// subscription adapts a docstore watch to an Observer.
// After Cancel or a terminal error no new delivery starts. A delivery already running
// when Cancel is called may still finish; observers discard it with their own teardown flag.
type subscription struct {
	observer   Observer
	watch      docstore.Watch
	done       atomic.Bool
	mu         sync.Mutex
	stopCalled bool
}

// OnSnapshot implements docstore.Handler
func (s *subscription) OnSnapshot(docs []*docstore.Document) {
	if s.done.Load() {
		return
	}
	posts := materialize(docs)
	if s.done.Load() {
		return
	}
	s.observer.OnSnapshot(Snapshot{Posts: posts})
}

// OnError implements docstore.Handler. The error is delivered once as an empty snapshot.
func (s *subscription) OnError(err error) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		err = docstore.ErrWatchClosed
	}
	slog.Error("[FEED] subscription error", "error", err)
	s.observer.OnSnapshot(Snapshot{Posts: []Post{}, Err: err})
	s.stop()
}

// Cancel detaches the listener. Safe to call any number of times.
func (s *subscription) Cancel() {
	s.done.Store(true)
	s.stop()
}

func (s *subscription) attach(w docstore.Watch) {
	s.mu.Lock()
	s.watch = w
	stop := s.stopCalled
	s.mu.Unlock()
	if stop {
		w.Stop()
	}
}

func (s *subscription) stop() {
	s.mu.Lock()
	if s.stopCalled {
		s.mu.Unlock()
		return
	}
	s.stopCalled = true
	w := s.watch
	s.mu.Unlock()
	if w != nil {
		w.Stop()
	}
}

// materialize converts documents to posts, newest first. Undecodable documents are skipped.
func materialize(docs []*docstore.Document) []Post {
	sorted := make([]*docstore.Document, len(docs))
	copy(sorted, docs)
	docstore.SortDocuments(sorted, true)

	out := make([]Post, 0, len(sorted))
	for _, doc := range sorted {
		post, err := fromDocument(doc)
		if err != nil {
			slog.Warn("[FEED] skipping malformed post document", "error", err)
			continue
		}
		out = append(out, *post)
	}
	return out
}
