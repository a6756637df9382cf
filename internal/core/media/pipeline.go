package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"Huddle/internal/core/blobstore"
)

// OutputMimeType is the content type of every stored image
const OutputMimeType = "image/jpeg"

// pathPrefix is the root of all post media in the blob store
const pathPrefix = "posts"

// LocalFile is a media file picked on the client side, in flight to becoming a Ref.
type LocalFile struct {
	// URI is a local filesystem path or a file:// URL
	URI string
	// MimeType is the declared content type
	MimeType string
	// Name is the original file name, if the client sent one
	Name      string
	SizeBytes int64
}

// Ref is the stored, addressable result of a successful upload
type Ref struct {
	URL         string `json:"url"`
	StoragePath string `json:"storagePath"`
	MimeType    string `json:"mimeType"`
}

// Uploader turns a local file into a stored Ref
type Uploader interface {
	Upload(ctx context.Context, file LocalFile, ownerID string) (*Ref, error)
}

// Opener opens a local resource for reading
type Opener func(uri string) (io.ReadCloser, error)

// Pipeline validates, compresses and uploads images. It never retries.
type Pipeline struct {
	store     blobstore.Store
	processor Processor
	open      Opener
	now       func() time.Time
	suffix    func() string
	cfg       Config
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithOpener replaces how local URIs are opened
func WithOpener(open Opener) Option {
	return func(p *Pipeline) { p.open = open }
}

// WithProcessor replaces the image processor
func WithProcessor(proc Processor) Option {
	return func(p *Pipeline) { p.processor = proc }
}

// WithClock replaces the upload timestamp source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a media upload pipeline writing to store
func NewPipeline(store blobstore.Store, cfg Config, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: blob store", ErrNilDependency)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		store:     store,
		cfg:       cfg,
		processor: NewProcessor(),
		open:      OpenLocal,
		now:       time.Now,
		suffix:    randomSuffix,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Upload runs the pipeline for one file:
// 1. Check the declared type is image/*
// 2. Read the local file (bounded by ReadTimeout and MaxSourceBytes)
// 3. Sniff the bytes, they must be an image too
// 4. Downsize and re-encode as JPEG
// 5. Enforce the payload ceiling
// 6. Write one blob under posts/{owner}/{millis}-{random}
func (p *Pipeline) Upload(ctx context.Context, file LocalFile, ownerID string) (*Ref, error) {
	if !isImageType(file.MimeType) {
		return nil, fmt.Errorf("%w: %q (only image/* is accepted)", ErrUnsupportedMediaType, file.MimeType)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}

	data, err := p.readSource(ctx, file.URI)
	if err != nil {
		return nil, err
	}

	if sniffed := mimetype.Detect(data); !isImageType(sniffed.String()) {
		return nil, fmt.Errorf("%w: content is %s", ErrUnsupportedMediaType, sniffed.String())
	}

	compressed, err := p.processor.Compress(data, p.cfg.MaxWidth, p.cfg.Quality)
	if err != nil {
		return nil, err
	}

	if int64(len(compressed.Data)) > p.cfg.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes after compression exceeds maximum of %d bytes",
			ErrPayloadTooLarge, len(compressed.Data), p.cfg.MaxPayloadBytes)
	}

	uploadedAt := p.now()
	filename := strconv.FormatInt(uploadedAt.UnixMilli(), 10) + "-" + p.suffix()
	path := StoragePath(ownerID, filename)

	originalName := file.Name
	if originalName == "" {
		originalName = filename
	}
	meta := blobstore.Metadata{
		ContentType: OutputMimeType,
		Custom: map[string]string{
			"originalName": originalName,
			"uploadedBy":   ownerID,
			"timestamp":    strconv.FormatInt(uploadedAt.UnixMilli(), 10),
		},
	}

	publicURL, err := p.store.Put(ctx, path, compressed.Data, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageWriteFailed, err)
	}

	slog.Debug("[MEDIA] upload complete",
		"path", path,
		"bytes", len(compressed.Data),
		"width", compressed.Width,
		"height", compressed.Height,
	)

	return &Ref{
		URL:         publicURL,
		StoragePath: path,
		MimeType:    OutputMimeType,
	}, nil
}

// readSource reads the whole local resource into memory. Opening and reading run on their
// own goroutine so a stalled file system cannot hold the caller past ReadTimeout.
func (p *Pipeline) readSource(ctx context.Context, uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReadTimeout)
	defer cancel()

	type result struct {
		err     error
		openErr error
		data    []byte
	}
	done := make(chan result, 1)

	var (
		mu        sync.Mutex
		rc        io.ReadCloser
		abandoned bool
	)
	go func() {
		src, err := p.open(uri)
		if err != nil {
			done <- result{openErr: err}
			return
		}
		mu.Lock()
		if abandoned {
			mu.Unlock()
			_ = src.Close()
			return
		}
		rc = src
		mu.Unlock()

		var buf bytes.Buffer
		_, err = io.Copy(&buf, io.LimitReader(src, p.cfg.MaxSourceBytes+1))
		if closeErr := src.Close(); closeErr != nil {
			slog.Warn("[MEDIA] failed to close source", "uri", uri, "error", closeErr)
		}
		done <- result{data: buf.Bytes(), err: err}
	}()

	select {
	case <-ctx.Done():
		// Closing unblocks the reader goroutine for most sources
		mu.Lock()
		abandoned = true
		if rc != nil {
			_ = rc.Close()
		}
		mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %v", ErrUploadTimeout, p.cfg.ReadTimeout)
		}
		return nil, ctx.Err()
	case res := <-done:
		if res.openErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, res.openErr)
		}
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadableSource, res.err)
		}
		if int64(len(res.data)) > p.cfg.MaxSourceBytes {
			return nil, fmt.Errorf("%w: source exceeds %d bytes", ErrPayloadTooLarge, p.cfg.MaxSourceBytes)
		}
		if len(res.data) == 0 {
			return nil, fmt.Errorf("%w: empty file", ErrUnreadableSource)
		}
		return res.data, nil
	}
}

// OpenLocal opens a filesystem path or file:// URL
func OpenLocal(uri string) (io.ReadCloser, error) {
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid file URI: %w", err)
		}
		uri = u.Path
	}
	if uri == "" {
		return nil, fmt.Errorf("empty file URI")
	}
	return os.Open(uri)
}

// StoragePath builds the blob path for an owner's file: posts/{ownerID}/{filename}
func StoragePath(ownerID, filename string) string {
	return pathPrefix + "/" + url.PathEscape(ownerID) + "/" + filename
}

// OwnedBy reports whether a storage path sits under ownerID's media folder
func OwnedBy(storagePath, ownerID string) bool {
	if ownerID == "" {
		return false
	}
	return strings.HasPrefix(storagePath, pathPrefix+"/"+url.PathEscape(ownerID)+"/")
}

func isImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
