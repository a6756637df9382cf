// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"Huddle/internal/core/media"
)

// Document store backends
const (
	DocStoreMemory   = "memory"
	DocStorePostgres = "postgres"
	DocStoreMongo    = "mongo"
	DocStoreSQLite   = "sqlite"
)

// Blob store backends
const (
	BlobStoreDisk       = "disk"
	BlobStoreCloudinary = "cloudinary"
)

// Configuration errors
var (
	ErrUnknownDocStore  = errors.New("unknown DOCSTORE backend")
	ErrUnknownBlobStore = errors.New("unknown BLOBSTORE backend")
	ErrMissingDSN       = errors.New("missing connection setting for document store")
	ErrMissingBlobStore = errors.New("missing blob store setting")
	ErrNoAuthMethod     = errors.New("one of AUTH_HS256_SECRET or AUTH_JWKS_URL is required")
	ErrWeakSecret       = errors.New("AUTH_HS256_SECRET must be at least 32 bytes")
)

const minSecretLength = 32

// Config is the complete server configuration
type Config struct {
	HTTPAddr string
	LogLevel string

	DocStore        string
	DatabaseURL     string
	MongoURI        string
	MongoDatabase   string
	SQLitePath      string
	BlobStore       string
	MediaRoot       string
	MediaBaseURL    string
	CloudinaryURL   string
	AuthSecret      string
	AuthJWKSURL     string
	AuthIssuer      string
	DefaultAvatar   string
	CORSOrigins     []string
	Media           media.Config
	RateLimitPerMin int
}

// Default returns a development configuration: in-memory documents, media on local disk.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		DocStore:        DocStoreMemory,
		MongoDatabase:   "huddle",
		SQLitePath:      "data/huddle.db",
		BlobStore:       BlobStoreDisk,
		MediaRoot:       "data/media",
		MediaBaseURL:    "http://localhost:8080/media",
		RateLimitPerMin: 100,
		Media:           media.DefaultConfig(),
	}
}

// Load reads .env (when present) and then the process environment.
// Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.DocStore, "DOCSTORE")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.MongoURI, "MONGODB_URI")
	setString(&cfg.MongoDatabase, "MONGODB_DATABASE")
	setString(&cfg.SQLitePath, "SQLITE_PATH")
	setString(&cfg.BlobStore, "BLOBSTORE")
	setString(&cfg.MediaRoot, "MEDIA_ROOT")
	setString(&cfg.MediaBaseURL, "MEDIA_BASE_URL")
	setString(&cfg.CloudinaryURL, "CLOUDINARY_URL")
	setString(&cfg.AuthSecret, "AUTH_HS256_SECRET")
	setString(&cfg.AuthJWKSURL, "AUTH_JWKS_URL")
	setString(&cfg.AuthIssuer, "AUTH_ISSUER")
	setString(&cfg.DefaultAvatar, "DEFAULT_AVATAR_URL")

	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPerMin = n
		} else {
			slog.Warn("[CONFIG] invalid RATE_LIMIT_PER_MINUTE value, using default",
				"value", v,
				"default", cfg.RateLimitPerMin,
			)
		}
	}

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	cfg.Media = media.ConfigFromEnv()
	cfg.DocStore = strings.ToLower(cfg.DocStore)
	cfg.BlobStore = strings.ToLower(cfg.BlobStore)

	return cfg, nil
}

// Validate checks that the selected backends have what they need
func (c Config) Validate() error {
	switch c.DocStore {
	case DocStoreMemory:
	case DocStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL", ErrMissingDSN)
		}
	case DocStoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("%w: MONGODB_URI and MONGODB_DATABASE", ErrMissingDSN)
		}
	case DocStoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH", ErrMissingDSN)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDocStore, c.DocStore)
	}

	switch c.BlobStore {
	case BlobStoreDisk:
		if c.MediaRoot == "" || c.MediaBaseURL == "" {
			return fmt.Errorf("%w: MEDIA_ROOT and MEDIA_BASE_URL", ErrMissingBlobStore)
		}
	case BlobStoreCloudinary:
		if c.CloudinaryURL == "" {
			return fmt.Errorf("%w: CLOUDINARY_URL", ErrMissingBlobStore)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBlobStore, c.BlobStore)
	}

	if c.AuthSecret == "" && c.AuthJWKSURL == "" {
		return ErrNoAuthMethod
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < minSecretLength {
		return ErrWeakSecret
	}

	return c.Media.Validate()
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}
