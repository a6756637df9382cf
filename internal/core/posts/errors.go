package posts

import (
	"errors"
	"fmt"

	"Huddle/internal/core/media"
)

// Sentinel errors for common post operations
var (
	// ErrUnauthenticated is returned when no user is signed in
	ErrUnauthenticated = errors.New("authentication required")

	// ErrNotFound is returned when a post does not exist
	ErrNotFound = errors.New("post not found")

	// ErrNotOwner is returned when the caller is not the author of the post
	ErrNotOwner = errors.New("only the author can delete this post")
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// PartialWriteError is returned when the media upload succeeded but the post document
// could not be written. The uploaded blob is left orphaned in storage.
type PartialWriteError struct {
	Err           error
	OrphanedMedia *media.Ref
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("post not saved, uploaded media orphaned at %s: %v", e.OrphanedMedia.StoragePath, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// IsPartial checks if error left durable side effects behind
func IsPartial(err error) bool {
	var partial *PartialWriteError
	return errors.As(err, &partial)
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Outcome tells a caller how much of a failed operation took effect
type Outcome string

const (
	// OutcomeNone is the outcome of a nil error
	OutcomeNone Outcome = ""
	// OutcomeRejected means nothing happened; the request was refused before any write
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed means an infrastructure error stopped the operation before anything durable was written
	OutcomeFailed Outcome = "failed"
	// OutcomePartial means some writes happened (for example uploaded media with no post)
	OutcomePartial Outcome = "partial"
)

// Classify maps an error from Create or Delete to its Outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeNone
	case IsPartial(err):
		return OutcomePartial
	case errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrNotOwner),
		IsValidationError(err),
		media.IsValidation(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
