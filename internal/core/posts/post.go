package posts

import (
	"errors"
	"fmt"
	"time"

	"Huddle/internal/core/docstore"
	"Huddle/internal/core/identity"
	"Huddle/internal/core/media"
)

// Document field names in the posts collection. They match what the mobile client wrote,
// so documents created by either side are interchangeable.
const (
	fieldContent   = "content"
	fieldMediaURL  = "mediaUrl"
	fieldMediaPath = "mediaPath"
	fieldMediaType = "mediaType"
	fieldUserID    = "userId"
	fieldUserName  = "userName"
	fieldUserPhoto = "userPhoto"
)

// DefaultCollection is the document collection holding posts
const DefaultCollection = "posts"

// AnonymousName is used when the author has no display name
const AnonymousName = "Anonymous"

// AuthorSnapshot is the author's profile as it was when the post was written.
// It is copied onto every post and is NOT a live reference: later profile changes
// do not update existing posts.
type AuthorSnapshot struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Post is one feed entry
type Post struct {
	CreatedAt time.Time      `json:"createdAt"`
	Media     *media.Ref     `json:"media,omitempty"`
	Author    AuthorSnapshot `json:"author"`
	ID        string         `json:"id"`
	Content   string         `json:"content"`
}

// CreatePostRequest is the input for creating a post. Content may be empty only when Media is set.
type CreatePostRequest struct {
	Media   *media.LocalFile
	Content string
}

// CleanupStatus records what happened to a deleted post's media
type CleanupStatus string

const (
	// CleanupSkipped means there was no media, or it did not belong to the caller
	CleanupSkipped CleanupStatus = "skipped"
	// CleanupDeleted means the blob was removed
	CleanupDeleted CleanupStatus = "deleted"
	// CleanupDenied means the blob store refused the delete; the blob is orphaned
	CleanupDenied CleanupStatus = "denied"
	// CleanupFailed means the blob delete failed for another reason; the blob is orphaned
	CleanupFailed CleanupStatus = "failed"
)

// DeleteResult describes a successful delete. MediaCleanup is a side-channel
// diagnostic: the delete succeeded regardless of its value.
type DeleteResult struct {
	CleanupErr   error         `json:"-"`
	PostID       string        `json:"postId"`
	MediaCleanup CleanupStatus `json:"mediaCleanup"`
}

// Snapshot is the complete ordered list of posts at one point in time.
// A non-nil Err marks the final delivery of a failed subscription; Posts is then empty.
type Snapshot struct {
	Err   error
	Posts []Post
}

// Observer receives snapshots from a subscription
type Observer interface {
	OnSnapshot(Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Snapshot)

// OnSnapshot implements Observer
func (f ObserverFunc) OnSnapshot(s Snapshot) { f(s) }

// Subscription is the cancellation handle of a live feed. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

// snapshotAuthor builds the author snapshot, filling the client defaults for missing fields
func snapshotAuthor(u *identity.User, defaultAvatar string) AuthorSnapshot {
	name := u.DisplayName
	if name == "" {
		name = AnonymousName
	}
	avatar := u.AvatarURL
	if avatar == "" {
		avatar = defaultAvatar
	}
	return AuthorSnapshot{ID: u.ID, DisplayName: name, AvatarURL: avatar}
}

// toFields converts a post being created into document fields
func toFields(content string, author AuthorSnapshot, ref *media.Ref) map[string]interface{} {
	fields := map[string]interface{}{
		fieldContent:   content,
		fieldUserID:    author.ID,
		fieldUserName:  author.DisplayName,
		fieldUserPhoto: author.AvatarURL,
		fieldMediaURL:  nil,
		fieldMediaPath: nil,
		fieldMediaType: nil,
	}
	if ref != nil {
		fields[fieldMediaURL] = ref.URL
		fields[fieldMediaPath] = ref.StoragePath
		fields[fieldMediaType] = ref.MimeType
	}
	return fields
}

var errMissingAuthor = errors.New("document has no userId")

// fromDocument converts a stored document into a Post
func fromDocument(doc *docstore.Document) (*Post, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}
	authorID := doc.String(fieldUserID)
	if authorID == "" {
		return nil, fmt.Errorf("post %s: %w", doc.ID, errMissingAuthor)
	}

	post := &Post{
		ID:        doc.ID,
		Content:   doc.String(fieldContent),
		CreatedAt: doc.CreatedAt,
		Author: AuthorSnapshot{
			ID:          authorID,
			DisplayName: doc.String(fieldUserName),
			AvatarURL:   doc.String(fieldUserPhoto),
		},
	}

	if url := doc.String(fieldMediaURL); url != "" {
		mimeType := doc.String(fieldMediaType)
		if mimeType == "" {
			mimeType = media.OutputMimeType
		}
		post.Media = &media.Ref{
			URL:         url,
			StoragePath: doc.String(fieldMediaPath),
			MimeType:    mimeType,
		}
	}

	return post, nil
}
