package posts_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"Huddle/internal/core/blobstore"
	"Huddle/internal/core/docstore"
	"Huddle/internal/core/identity"
	"Huddle/internal/core/media"
	"Huddle/internal/core/posts"
	"Huddle/internal/db/memory"
)

// fakeBlobs is an in-memory blob store with injectable delete errors
type fakeBlobs struct {
	deleteErr error
	blobs     map[string][]byte
	deleted   []string
	mu        sync.Mutex
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: make(map[string][]byte)}
}

func (b *fakeBlobs) Put(_ context.Context, path string, data []byte, _ blobstore.Metadata) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[path] = data
	return "https://media.test/" + path, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, path)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	if _, ok := b.blobs[path]; !ok {
		return blobstore.ErrNotFound
	}
	delete(b.blobs, path)
	return nil
}

func (b *fakeBlobs) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[path]
	return ok
}

// mockUploader stands in for the media pipeline
type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(ctx context.Context, file media.LocalFile, ownerID string) (*media.Ref, error) {
	args := m.Called(ctx, file, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*media.Ref), args.Error(1)
}

// failingDocs fails inserts while delegating everything else
type failingDocs struct {
	*memory.Store
	insertErr error
}

func (f *failingDocs) Insert(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	return f.Store.Insert(ctx, collection, fields)
}

// snapshotRecorder collects every snapshot an observer receives
type snapshotRecorder struct {
	snapshots []posts.Snapshot
	mu        sync.Mutex
}

func (r *snapshotRecorder) OnSnapshot(s posts.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

func (r *snapshotRecorder) last() posts.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshots[len(r.snapshots)-1]
}

var (
	alice = &identity.User{ID: "alice", DisplayName: "Alice", AvatarURL: "https://img.test/alice.png"}
	bob   = &identity.User{ID: "bob"}
)

func as(u *identity.User) context.Context {
	return identity.WithUser(context.Background(), u)
}

func writeTestPNG(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: 120, B: uint8(y % 256), A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "photo.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func newPipeline(t *testing.T, blobs blobstore.Store) *media.Pipeline {
	t.Helper()
	p, err := media.NewPipeline(blobs, media.DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestCreate_TextPostAppearsInFeed(t *testing.T) {
	docs := memory.NewStore()
	repo := posts.NewRepository(docs, newFakeBlobs(), nil, identity.ContextProvider{})

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.last().Posts)

	id, err := repo.Create(as(alice), posts.CreatePostRequest{Content: "hello huddle"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	snap := rec.last()
	require.NoError(t, snap.Err)
	require.Len(t, snap.Posts, 1)

	post := snap.Posts[0]
	assert.Equal(t, id, post.ID)
	assert.Equal(t, "hello huddle", post.Content)
	assert.Nil(t, post.Media)
	assert.Equal(t, posts.AuthorSnapshot{ID: "alice", DisplayName: "Alice", AvatarURL: "https://img.test/alice.png"}, post.Author)
	assert.False(t, post.CreatedAt.IsZero())
}

func TestCreate_AuthorDefaults(t *testing.T) {
	docs := memory.NewStore()
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{},
		posts.WithDefaultAvatar("https://img.test/default.png"))

	id, err := repo.Create(as(bob), posts.CreatePostRequest{Content: "hi"})
	require.NoError(t, err)

	doc, err := docs.Get(context.Background(), posts.DefaultCollection, id)
	require.NoError(t, err)
	assert.Equal(t, posts.AnonymousName, doc.String("userName"))
	assert.Equal(t, "https://img.test/default.png", doc.String("userPhoto"))
}

func TestCreate_NewestFirst(t *testing.T) {
	docs := memory.NewStore()
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{})

	for i := 0; i < 3; i++ {
		_, err := repo.Create(as(alice), posts.CreatePostRequest{Content: fmt.Sprintf("post %d", i)})
		require.NoError(t, err)
	}

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	got := rec.last().Posts
	require.Len(t, got, 3)
	assert.Equal(t, "post 2", got[0].Content)
	assert.Equal(t, "post 1", got[1].Content)
	assert.Equal(t, "post 0", got[2].Content)
}

func TestCreate_Unauthenticated(t *testing.T) {
	docs := memory.NewStore()
	uploader := &mockUploader{}
	repo := posts.NewRepository(docs, newFakeBlobs(), uploader, identity.ContextProvider{})

	_, err := repo.Create(context.Background(), posts.CreatePostRequest{
		Content: "hello",
		Media:   &media.LocalFile{URI: "/tmp/x.png", MimeType: "image/png"},
	})

	assert.ErrorIs(t, err, posts.ErrUnauthenticated)
	assert.Equal(t, posts.OutcomeRejected, posts.Classify(err))
	assert.Equal(t, 0, docs.Len(posts.DefaultCollection))
	uploader.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_Validation(t *testing.T) {
	repo := posts.NewRepository(memory.NewStore(), nil, nil, identity.ContextProvider{},
		posts.WithMaxContentGraphemes(5))

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"empty", "", true},
		{"whitespace only", "  \n\t ", true},
		{"at limit", "abcde", false},
		{"over limit", "abcdef", true},
		// Five flags are five grapheme clusters even though they are ten runes
		{"grapheme clusters", "🇫🇷🇩🇪🇯🇵🇺🇸🇧🇷", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Create(as(alice), posts.CreatePostRequest{Content: tt.content})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, posts.IsValidationError(err))
				assert.Equal(t, posts.OutcomeRejected, posts.Classify(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreate_MediaWithoutUploaderRejected(t *testing.T) {
	repo := posts.NewRepository(memory.NewStore(), nil, nil, identity.ContextProvider{})

	_, err := repo.Create(as(alice), posts.CreatePostRequest{
		Media: &media.LocalFile{URI: "/tmp/x.png", MimeType: "image/png"},
	})
	assert.True(t, posts.IsValidationError(err))
}

func TestCreate_WithImage(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})

	src := writeTestPNG(t, 1600, 800)
	id, err := repo.Create(as(alice), posts.CreatePostRequest{
		Media: &media.LocalFile{URI: src, MimeType: "image/png", Name: "photo.png"},
	})
	require.NoError(t, err)

	doc, err := docs.Get(context.Background(), posts.DefaultCollection, id)
	require.NoError(t, err)
	path := doc.String("mediaPath")
	assert.True(t, strings.HasPrefix(path, "posts/alice/"))
	assert.Equal(t, "https://media.test/"+path, doc.String("mediaUrl"))
	assert.Equal(t, media.OutputMimeType, doc.String("mediaType"))
	assert.Empty(t, doc.String("content"))
	assert.True(t, blobs.has(path))
}

func TestCreate_VideoRejectedWithoutWrites(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	defer sub.Cancel()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	_, err = repo.Create(as(alice), posts.CreatePostRequest{
		Content: "look at this",
		Media:   &media.LocalFile{URI: "/tmp/clip.mp4", MimeType: "video/mp4"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, media.ErrUnsupportedMediaType)
	assert.Equal(t, posts.OutcomeRejected, posts.Classify(err))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, docs.Len(posts.DefaultCollection))
	assert.Empty(t, blobs.blobs)
}

func TestCreate_UploadStorageFailure(t *testing.T) {
	docs := memory.NewStore()
	uploader := &mockUploader{}
	uploader.On("Upload", mock.Anything, mock.Anything, "alice").
		Return(nil, fmt.Errorf("%w: bucket offline", media.ErrStorageWriteFailed))
	repo := posts.NewRepository(docs, nil, uploader, identity.ContextProvider{})

	_, err := repo.Create(as(alice), posts.CreatePostRequest{
		Content: "hi",
		Media:   &media.LocalFile{URI: "/tmp/x.png", MimeType: "image/png"},
	})
	assert.ErrorIs(t, err, media.ErrStorageWriteFailed)
	assert.Equal(t, posts.OutcomeFailed, posts.Classify(err))
	assert.Equal(t, 0, docs.Len(posts.DefaultCollection))
	uploader.AssertExpectations(t)
}

func TestCreate_PartialWrite(t *testing.T) {
	docs := &failingDocs{Store: memory.NewStore(), insertErr: errors.New("write quota exceeded")}
	ref := &media.Ref{URL: "https://media.test/posts/alice/1-abc", StoragePath: "posts/alice/1-abc", MimeType: media.OutputMimeType}
	uploader := &mockUploader{}
	uploader.On("Upload", mock.Anything, mock.Anything, "alice").Return(ref, nil)
	repo := posts.NewRepository(docs, nil, uploader, identity.ContextProvider{})

	_, err := repo.Create(as(alice), posts.CreatePostRequest{
		Content: "hi",
		Media:   &media.LocalFile{URI: "/tmp/x.png", MimeType: "image/png"},
	})
	require.Error(t, err)
	assert.True(t, posts.IsPartial(err))
	assert.Equal(t, posts.OutcomePartial, posts.Classify(err))

	var partial *posts.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, ref, partial.OrphanedMedia)
}

func TestCreate_InsertFailureWithoutMedia(t *testing.T) {
	docs := &failingDocs{Store: memory.NewStore(), insertErr: errors.New("unavailable")}
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{})

	_, err := repo.Create(as(alice), posts.CreatePostRequest{Content: "hi"})
	require.Error(t, err)
	assert.False(t, posts.IsPartial(err))
	assert.Equal(t, posts.OutcomeFailed, posts.Classify(err))
}

func seedImagePost(t *testing.T, repo posts.Repository, docs *memory.Store) (string, string) {
	t.Helper()
	src := writeTestPNG(t, 200, 100)
	id, err := repo.Create(as(alice), posts.CreatePostRequest{
		Content: "with image",
		Media:   &media.LocalFile{URI: src, MimeType: "image/png"},
	})
	require.NoError(t, err)
	doc, err := docs.Get(context.Background(), posts.DefaultCollection, id)
	require.NoError(t, err)
	return id, doc.String("mediaPath")
}

func TestDelete_RemovesPostAndMedia(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})
	id, path := seedImagePost(t, repo, docs)

	result, err := repo.Delete(as(alice), id)
	require.NoError(t, err)
	assert.Equal(t, id, result.PostID)
	assert.Equal(t, posts.CleanupDeleted, result.MediaCleanup)
	assert.NoError(t, result.CleanupErr)
	assert.False(t, blobs.has(path))

	_, err = docs.Get(context.Background(), posts.DefaultCollection, id)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestDelete_TextPostSkipsCleanup(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, nil, identity.ContextProvider{})
	id, err := repo.Create(as(alice), posts.CreatePostRequest{Content: "text"})
	require.NoError(t, err)

	result, err := repo.Delete(as(alice), id)
	require.NoError(t, err)
	assert.Equal(t, posts.CleanupSkipped, result.MediaCleanup)
	assert.Empty(t, blobs.deleted)
}

func TestDelete_NotOwner(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})
	id, path := seedImagePost(t, repo, docs)

	result, err := repo.Delete(as(bob), id)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, posts.ErrNotOwner)
	assert.Equal(t, posts.OutcomeRejected, posts.Classify(err))

	_, err = docs.Get(context.Background(), posts.DefaultCollection, id)
	assert.NoError(t, err)
	assert.True(t, blobs.has(path))
	assert.Empty(t, blobs.deleted)
}

func TestDelete_Errors(t *testing.T) {
	repo := posts.NewRepository(memory.NewStore(), newFakeBlobs(), nil, identity.ContextProvider{})

	_, err := repo.Delete(context.Background(), "anything")
	assert.ErrorIs(t, err, posts.ErrUnauthenticated)

	_, err = repo.Delete(as(alice), "")
	assert.True(t, posts.IsValidationError(err))

	_, err = repo.Delete(as(alice), "missing")
	assert.True(t, posts.IsNotFound(err))
}

func TestDelete_CleanupOutcomes(t *testing.T) {
	tests := []struct {
		deleteErr  error
		name       string
		wantStatus posts.CleanupStatus
		wantErr    bool
	}{
		{name: "already gone", deleteErr: blobstore.ErrNotFound, wantStatus: posts.CleanupDeleted},
		{name: "permission denied", deleteErr: fmt.Errorf("acl: %w", blobstore.ErrPermissionDenied), wantStatus: posts.CleanupDenied, wantErr: true},
		{name: "network failure", deleteErr: errors.New("connection reset"), wantStatus: posts.CleanupFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := memory.NewStore()
			blobs := newFakeBlobs()
			repo := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})
			id, _ := seedImagePost(t, repo, docs)
			blobs.deleteErr = tt.deleteErr

			result, err := repo.Delete(as(alice), id)
			require.NoError(t, err, "media cleanup never fails the delete")
			assert.Equal(t, tt.wantStatus, result.MediaCleanup)
			if tt.wantErr {
				assert.Error(t, result.CleanupErr)
			} else {
				assert.NoError(t, result.CleanupErr)
			}
			assert.Equal(t, 0, docs.Len(posts.DefaultCollection))
		})
	}
}

func TestDelete_ForeignMediaPathNotTouched(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, nil, identity.ContextProvider{})

	doc, err := docs.Insert(context.Background(), posts.DefaultCollection, map[string]interface{}{
		"content":   "imported",
		"userId":    "alice",
		"mediaUrl":  "https://media.test/posts/bob/1-abc",
		"mediaPath": "posts/bob/1-abc",
	})
	require.NoError(t, err)

	result, err := repo.Delete(as(alice), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, posts.CleanupSkipped, result.MediaCleanup)
	assert.Empty(t, blobs.deleted)
}

func TestDelete_CleanupSurvivesCanceledRequest(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	repo := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})
	id, path := seedImagePost(t, repo, docs)

	// The blob delete runs on a context detached from the request
	ctx, cancel := context.WithCancel(as(alice))
	canceling := &cancelOnDelete{Store: docs, cancel: cancel}
	repo = posts.NewRepository(canceling, blobs, nil, identity.ContextProvider{})

	result, err := repo.Delete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, posts.CleanupDeleted, result.MediaCleanup)
	assert.False(t, blobs.has(path))
}

// cancelOnDelete cancels the request context right after the document delete commits
type cancelOnDelete struct {
	*memory.Store
	cancel context.CancelFunc
}

func (c *cancelOnDelete) Delete(ctx context.Context, collection, id string) error {
	err := c.Store.Delete(ctx, collection, id)
	c.cancel()
	return err
}

// hangingBlobs never finishes a delete until its context ends
type hangingBlobs struct {
	*fakeBlobs
}

func (h *hangingBlobs) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDelete_CleanupTimeout(t *testing.T) {
	docs := memory.NewStore()
	blobs := newFakeBlobs()
	seed := posts.NewRepository(docs, blobs, newPipeline(t, blobs), identity.ContextProvider{})
	id, path := seedImagePost(t, seed, docs)

	repo := posts.NewRepository(docs, &hangingBlobs{fakeBlobs: blobs}, nil, identity.ContextProvider{},
		posts.WithCleanupTimeout(50*time.Millisecond))

	start := time.Now()
	result, err := repo.Delete(as(alice), id)
	require.NoError(t, err, "the post delete already committed")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, posts.CleanupFailed, result.MediaCleanup)
	assert.ErrorIs(t, result.CleanupErr, context.DeadlineExceeded)
	assert.True(t, blobs.has(path), "the blob is left for a later sweep")

	_, err = docs.Get(context.Background(), posts.DefaultCollection, id)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestRepository_WithCollection(t *testing.T) {
	docs := memory.NewStore()
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{}, posts.WithCollection("staging_posts"))

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	defer sub.Cancel()

	id, err := repo.Create(as(alice), posts.CreatePostRequest{Content: "staged"})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Len("staging_posts"))
	assert.Zero(t, docs.Len(posts.DefaultCollection))

	require.Eventually(t, func() bool {
		return rec.count() > 0 && len(rec.last().Posts) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, id, rec.last().Posts[0].ID)

	_, err = repo.Delete(as(alice), id)
	require.NoError(t, err)
	assert.Zero(t, docs.Len("staging_posts"))
}

func TestSubscribe_ErrorDeliversEmptySnapshotOnce(t *testing.T) {
	docs := memory.NewStore()
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{})
	_, err := repo.Create(as(alice), posts.CreatePostRequest{Content: "one"})
	require.NoError(t, err)

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	defer sub.Cancel()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	lost := errors.New("permission revoked")
	docs.FailWatches(posts.DefaultCollection, lost)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	snap := rec.last()
	assert.ErrorIs(t, snap.Err, lost)
	assert.NotNil(t, snap.Posts)
	assert.Empty(t, snap.Posts)

	_, err = repo.Create(as(alice), posts.CreatePostRequest{Content: "two"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, rec.count())
}

func TestSubscribe_CancelIsIdempotentAndFinal(t *testing.T) {
	docs := memory.NewStore()
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{})

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	sub.Cancel()
	sub.Cancel()

	_, err = repo.Create(as(alice), posts.CreatePostRequest{Content: "after cancel"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestSubscribe_SkipsMalformedDocuments(t *testing.T) {
	docs := memory.NewStore()
	_, err := docs.Insert(context.Background(), posts.DefaultCollection, map[string]interface{}{"content": "no author"})
	require.NoError(t, err)
	repo := posts.NewRepository(docs, nil, nil, identity.ContextProvider{})
	_, err = repo.Create(as(alice), posts.CreatePostRequest{Content: "valid"})
	require.NoError(t, err)

	rec := &snapshotRecorder{}
	sub, err := repo.Subscribe(context.Background(), rec)
	require.NoError(t, err)
	defer sub.Cancel()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	got := rec.last().Posts
	require.Len(t, got, 1)
	assert.Equal(t, "valid", got[0].Content)
}

func TestSubscribe_NilObserver(t *testing.T) {
	repo := posts.NewRepository(memory.NewStore(), nil, nil, identity.ContextProvider{})
	_, err := repo.Subscribe(context.Background(), nil)
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		name string
		want posts.Outcome
	}{
		{name: "nil", err: nil, want: posts.OutcomeNone},
		{name: "unauthenticated", err: posts.ErrUnauthenticated, want: posts.OutcomeRejected},
		{name: "not owner", err: posts.ErrNotOwner, want: posts.OutcomeRejected},
		{name: "validation", err: posts.NewValidationError("content", "empty"), want: posts.OutcomeRejected},
		{name: "payload too large", err: fmt.Errorf("media upload failed: %w", media.ErrPayloadTooLarge), want: posts.OutcomeRejected},
		{name: "timeout", err: fmt.Errorf("media upload failed: %w", media.ErrUploadTimeout), want: posts.OutcomeFailed},
		{name: "partial", err: &posts.PartialWriteError{Err: errors.New("x"), OrphanedMedia: &media.Ref{StoragePath: "p"}}, want: posts.OutcomePartial},
		{name: "unknown", err: errors.New("boom"), want: posts.OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, posts.Classify(tt.err))
		})
	}
}
