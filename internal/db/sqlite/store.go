// Package sqlite is a single-process document store on an embedded SQLite file.
// Watches only see writes made through the same Store value.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"Huddle/internal/core/docstore"
	"Huddle/internal/db/migrations"
)

// Store implements docstore.Store on SQLite
type Store struct {
	db       *sql.DB
	last     time.Time
	watchers map[*watcher]struct{}
	// writeMu serializes writes so timestamps and change signals follow commit order
	writeMu sync.Mutex
	mu      sync.Mutex
}

// Open opens (creating if needed) the database at path and applies migrations
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if err := migrations.Up(ctx, db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, watchers: make(map[*watcher]struct{})}, nil
}

// Close stops every watch and closes the database
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	ws := make([]*watcher, 0, len(s.watchers))
	for w := range s.watchers {
		ws = append(ws, w)
	}
	s.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
	return s.db.Close()
}

// Insert implements docstore.Store
func (s *Store) Insert(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ts := time.Now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}

	doc := &docstore.Document{ID: uuid.NewString(), CreatedAt: ts, Fields: docstore.CloneFields(fields)}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, fields, created_at) VALUES (?, ?, ?, ?)`,
		collection, doc.ID, string(payload), ts.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	s.last = ts
	s.signal(collection)
	return doc, nil
}

// Get implements docstore.Store
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fields, created_at FROM documents WHERE collection = ? AND id = ?`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Delete implements docstore.Store
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n == 0 {
		return docstore.ErrNotFound
	}
	s.signal(collection)
	return nil
}

// Watch implements docstore.Store. A burst of writes may collapse into one snapshot of the latest state.
func (s *Store) Watch(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Watch, error) {
	if h == nil {
		return nil, errors.New("handler is required")
	}
	w := &watcher{
		store:   s,
		query:   q,
		handler: h,
		dirty:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	// Register before the initial read so a concurrent write marks the watcher dirty
	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	initial, err := s.list(ctx, q)
	if err != nil {
		w.Stop()
		return nil, err
	}

	go w.run(initial)
	return w, nil
}

func (s *Store) signal(collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.watchers {
		if w.query.Collection != collection {
			continue
		}
		select {
		case w.dirty <- struct{}{}:
		default:
		}
	}
}

func (s *Store) list(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fields, created_at FROM documents WHERE collection = ? ORDER BY created_at `+order+`, id ASC`,
		q.Collection)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*docstore.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	docstore.SortDocuments(docs, q.Descending)
	return docs, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row scanner) (*docstore.Document, error) {
	var (
		doc     docstore.Document
		payload string
		micros  int64
	)
	if err := row.Scan(&doc.ID, &payload, &micros); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.UnixMicro(micros).UTC()
	if err := json.Unmarshal([]byte(payload), &doc.Fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", doc.ID, err)
	}
	return &doc, nil
}

type watcher struct {
	handler docstore.Handler
	store   *Store
	dirty   chan struct{}
	stop    chan struct{}
	query   docstore.Query
	once    sync.Once
}

func (w *watcher) run(initial []*docstore.Document) {
	if w.stopped() {
		return
	}
	w.handler.OnSnapshot(initial)

	for {
		select {
		case <-w.stop:
			return
		case <-w.dirty:
			docs, err := w.store.list(context.Background(), w.query)
			if w.stopped() {
				return
			}
			if err != nil {
				slog.Error("[DOCSTORE] sqlite watch query failed", "collection", w.query.Collection, "error", err)
				w.handler.OnError(err)
				w.Stop()
				return
			}
			w.handler.OnSnapshot(docs)
		}
	}
}

func (w *watcher) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Stop implements docstore.Watch
func (w *watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.store.mu.Lock()
		delete(w.store.watchers, w)
		w.store.mu.Unlock()
	})
}
