package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"Huddle/internal/core/docstore"
)

// notifyChannel is the LISTEN channel fed by the documents trigger. The payload is the collection name.
const notifyChannel = "document_changes"

// ErrListenerDisconnected is delivered to watchers when the notification connection drops
var ErrListenerDisconnected = errors.New("document change listener disconnected")

type documentStore struct {
	db                   *sql.DB
	dsn                  string
	minReconnectInterval time.Duration
	maxReconnectInterval time.Duration
}

// NewDocumentStore creates a PostgreSQL document store. dsn is used to open a dedicated
// LISTEN connection per watch.
func NewDocumentStore(db *sql.DB, dsn string) docstore.Store {
	return &documentStore{
		db:                   db,
		dsn:                  dsn,
		minReconnectInterval: 10 * time.Second,
		maxReconnectInterval: time.Minute,
	}
}

// Insert stores a document. The id comes from the application, the timestamp from clock_timestamp().
func (s *documentStore) Insert(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	doc := &docstore.Document{ID: uuid.NewString(), Fields: docstore.CloneFields(fields)}
	query := `
		INSERT INTO documents (collection, id, fields)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	if err := s.db.QueryRowContext(ctx, query, collection, doc.ID, payload).Scan(&doc.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return doc, nil
}

// Get reads one document
func (s *documentStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	query := `SELECT id, fields, created_at FROM documents WHERE collection = $1 AND id = $2`

	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, collection, id))
	if err == sql.ErrNoRows {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// Delete removes one document
func (s *documentStore) Delete(ctx context.Context, collection, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// Watch opens a LISTEN connection, then takes the initial snapshot, so no change between
// the two is missed. Every notification for the collection re-reads the full result set.
// Watch fails if the first connection attempt fails or ctx ends before the listener connects.
func (s *documentStore) Watch(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Watch, error) {
	w := &pgWatch{
		store:   s,
		query:   q,
		handler: h,
		startup: make(chan error, 1),
		events:  make(chan error, 1),
		stop:    make(chan struct{}),
	}

	w.listener = pq.NewListener(s.dsn, s.minReconnectInterval, s.maxReconnectInterval, w.onListenerEvent)
	if err := w.listen(ctx); err != nil {
		return nil, err
	}

	initial, err := s.list(ctx, q)
	if err != nil {
		_ = w.listener.Close()
		return nil, err
	}

	go w.run(initial)
	return w, nil
}

func (s *documentStore) list(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query := `
		SELECT id, fields, created_at FROM documents
		WHERE collection = $1
		ORDER BY created_at ` + order + `, id ASC`

	rows, err := s.db.QueryContext(ctx, query, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("[DOCSTORE] failed to close rows", "error", closeErr)
		}
	}()

	var docs []*docstore.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	docstore.SortDocuments(docs, q.Descending)
	return docs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*docstore.Document, error) {
	var (
		doc     docstore.Document
		payload []byte
	)
	if err := row.Scan(&doc.ID, &payload, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	if err := json.Unmarshal(payload, &doc.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", doc.ID, err)
	}
	return &doc, nil
}

type pgWatch struct {
	handler  docstore.Handler
	store    *documentStore
	listener *pq.Listener
	startup  chan error
	events   chan error
	stop     chan struct{}
	query    docstore.Query
	once     sync.Once
	ready    atomic.Bool
}

// listen blocks until the listener is connected. pq keeps retrying a failed connection,
// so the first failure and ctx both end the wait by closing the listener.
func (w *pgWatch) listen(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- w.listener.Listen(notifyChannel) }()

	var cause error
	select {
	case err := <-done:
		if err == nil {
			w.ready.Store(true)
			return nil
		}
		cause = err
	case err := <-w.startup:
		cause = err
	case <-ctx.Done():
		cause = ctx.Err()
	}

	_ = w.listener.Close()
	<-done
	return fmt.Errorf("failed to listen for document changes: %w", cause)
}

// onListenerEvent runs on the pq goroutine. Failures before the listener first connects
// go to listen; after that a dropped connection is terminal for the watch.
func (w *pgWatch) onListenerEvent(ev pq.ListenerEventType, err error) {
	if ev != pq.ListenerEventDisconnected && ev != pq.ListenerEventConnectionAttemptFailed {
		return
	}
	if err == nil {
		err = ErrListenerDisconnected
	} else {
		err = fmt.Errorf("%w: %v", ErrListenerDisconnected, err)
	}

	target := w.events
	if ev == pq.ListenerEventConnectionAttemptFailed && !w.ready.Load() {
		target = w.startup
	}
	select {
	case target <- err:
	default:
	}
}

func (w *pgWatch) run(initial []*docstore.Document) {
	defer func() {
		if err := w.listener.Close(); err != nil {
			slog.Debug("[DOCSTORE] listener close failed", "error", err)
		}
	}()

	if w.stopped() {
		return
	}
	w.handler.OnSnapshot(initial)

	for {
		select {
		case <-w.stop:
			return
		case err := <-w.events:
			if !w.stopped() {
				w.handler.OnError(err)
			}
			w.Stop()
			return
		case n, ok := <-w.listener.Notify:
			if !ok {
				if !w.stopped() {
					w.handler.OnError(docstore.ErrWatchClosed)
				}
				return
			}
			if n == nil || n.Extra != w.query.Collection {
				continue
			}
			docs, err := w.store.list(context.Background(), w.query)
			if w.stopped() {
				return
			}
			if err != nil {
				w.handler.OnError(err)
				w.Stop()
				return
			}
			w.handler.OnSnapshot(docs)
		}
	}
}

func (w *pgWatch) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Stop implements docstore.Watch
func (w *pgWatch) Stop() {
	w.once.Do(func() { close(w.stop) })
}
