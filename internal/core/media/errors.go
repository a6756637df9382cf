package media

import "errors"

var (
	// ErrUnsupportedMediaType is returned when the file is not an image, by declared type,
	// sniffed content, or decoder support.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrPayloadTooLarge is returned when the compressed image exceeds the upload ceiling,
	// or the source exceeds the read ceiling.
	ErrPayloadTooLarge = errors.New("media payload too large")

	// ErrUploadTimeout is returned when reading the local file exceeds the configured timeout.
	ErrUploadTimeout = errors.New("media read timed out")

	// ErrStorageWriteFailed wraps the blob store error when the upload itself fails.
	ErrStorageWriteFailed = errors.New("media storage write failed")

	// ErrUnreadableSource is returned when the local file cannot be opened or read.
	ErrUnreadableSource = errors.New("media source unreadable")

	// ErrNilDependency is returned when a required dependency is nil.
	ErrNilDependency = errors.New("required dependency is nil")
)

// IsValidation reports whether err was raised before any network call and is
// therefore safe to correct and retry immediately.
func IsValidation(err error) bool {
	return errors.Is(err, ErrUnsupportedMediaType) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrUnreadableSource)
}

// IsTransient reports whether err is an infrastructure failure the caller may retry
func IsTransient(err error) bool {
	return errors.Is(err, ErrUploadTimeout) || errors.Is(err, ErrStorageWriteFailed)
}
