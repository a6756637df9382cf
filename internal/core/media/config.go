package media

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config validation errors
var (
	// ErrInvalidMaxWidth is returned when MaxWidth is outside the allowed resample range
	ErrInvalidMaxWidth = errors.New("MaxWidth must be between 1080 and 1200")
	// ErrInvalidQuality is returned when Quality is not a valid JPEG quality
	ErrInvalidQuality = errors.New("Quality must be between 1 and 100")
	// ErrInvalidMaxPayload is returned when MaxPayloadBytes is not positive
	ErrInvalidMaxPayload = errors.New("MaxPayloadBytes must be positive")
	// ErrInvalidMaxSource is returned when MaxSourceBytes is smaller than MaxPayloadBytes
	ErrInvalidMaxSource = errors.New("MaxSourceBytes must be at least MaxPayloadBytes")
	// ErrInvalidReadTimeout is returned when ReadTimeout is not positive
	ErrInvalidReadTimeout = errors.New("ReadTimeout must be positive")
)

const (
	// MinWidth and MaxWidthLimit bound the resample width
	MinWidth      = 1080
	MaxWidthLimit = 1200

	mib = 1 << 20
)

// Config holds the upload policy for the media pipeline.
type Config struct {
	// MaxWidth is the width images are downsized to. Narrower images are not upscaled.
	MaxWidth int

	// Quality is the JPEG quality used when re-encoding (1-100).
	Quality int

	// MaxPayloadBytes is the hard ceiling on the compressed payload.
	MaxPayloadBytes int64

	// MaxSourceBytes caps how much of the local file is read before compression.
	MaxSourceBytes int64

	// ReadTimeout bounds reading the local file.
	ReadTimeout time.Duration
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.MaxWidth < MinWidth || c.MaxWidth > MaxWidthLimit {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxWidth, c.MaxWidth)
	}
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuality, c.Quality)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxPayload, c.MaxPayloadBytes)
	}
	if c.MaxSourceBytes < c.MaxPayloadBytes {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxSource, c.MaxSourceBytes)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidReadTimeout, c.ReadTimeout)
	}
	return nil
}

// DefaultConfig returns the policy used by the mobile client: 1080px wide, quality 70, 5 MiB.
func DefaultConfig() Config {
	return Config{
		MaxWidth:        1080,
		Quality:         70,
		MaxPayloadBytes: 5 * mib,
		MaxSourceBytes:  32 * mib,
		ReadTimeout:     30 * time.Second,
	}
}

// ConfigFromEnv creates a Config from environment variables.
// Uses defaults for any missing or invalid environment variables.
//
// Environment variables:
//   - MEDIA_MAX_WIDTH: resample width in pixels, 1080-1200 (default: 1080)
//   - MEDIA_QUALITY: JPEG quality 1-100 (default: 70)
//   - MEDIA_MAX_PAYLOAD_MB: compressed payload ceiling in MiB (default: 5)
//   - MEDIA_MAX_SOURCE_MB: source read ceiling in MiB (default: 32)
//   - MEDIA_READ_TIMEOUT_SECONDS: local read timeout (default: 30)
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("MEDIA_MAX_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= MinWidth && n <= MaxWidthLimit {
			cfg.MaxWidth = n
		} else {
			slog.Warn("[MEDIA] invalid MEDIA_MAX_WIDTH value, using default",
				"value", v,
				"default", cfg.MaxWidth,
				"error", err,
			)
		}
	}

	if v := os.Getenv("MEDIA_QUALITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			cfg.Quality = n
		} else {
			slog.Warn("[MEDIA] invalid MEDIA_QUALITY value, using default",
				"value", v,
				"default", cfg.Quality,
				"error", err,
			)
		}
	}

	if v := os.Getenv("MEDIA_MAX_PAYLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxPayloadBytes = int64(n) * mib
		} else {
			slog.Warn("[MEDIA] invalid MEDIA_MAX_PAYLOAD_MB value, using default",
				"value", v,
				"default_bytes", cfg.MaxPayloadBytes,
				"error", err,
			)
		}
	}

	if v := os.Getenv("MEDIA_MAX_SOURCE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSourceBytes = int64(n) * mib
		} else {
			slog.Warn("[MEDIA] invalid MEDIA_MAX_SOURCE_MB value, using default",
				"value", v,
				"default_bytes", cfg.MaxSourceBytes,
				"error", err,
			)
		}
	}
	if cfg.MaxSourceBytes < cfg.MaxPayloadBytes {
		cfg.MaxSourceBytes = cfg.MaxPayloadBytes
	}

	if v := os.Getenv("MEDIA_READ_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReadTimeout = time.Duration(n) * time.Second
		} else {
			slog.Warn("[MEDIA] invalid MEDIA_READ_TIMEOUT_SECONDS value, using default",
				"value", v,
				"default_seconds", int(cfg.ReadTimeout.Seconds()),
				"error", err,
			)
		}
	}

	return cfg
}
