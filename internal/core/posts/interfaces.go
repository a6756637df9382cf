package posts

import "context"

// Repository is the single point of truth for remote reads and writes of the post collection
type Repository interface {
	// Create writes a new post, uploading its media first if present.
	// Flow: Authenticate -> Validate -> Upload media -> Insert document -> Return id
	// The new post becomes visible only through the next subscription snapshot.
	Create(ctx context.Context, req CreatePostRequest) (string, error)

	// Delete removes a post authored by the caller.
	// Flow: Authenticate -> Read -> Check ownership -> Delete document -> Best-effort media cleanup
	// Media cleanup failures are reported in DeleteResult, never as an error.
	Delete(ctx context.Context, postID string) (*DeleteResult, error)

	// Subscribe delivers the complete post list, newest first, on every change.
	// On a channel error it delivers one empty Snapshot carrying Err and stops.
	Subscribe(ctx context.Context, observer Observer) (Subscription, error)
}
