// Package memory is an in-process document store. It implements the full docstore
// contract, including live watches, and backs development mode and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"Huddle/internal/core/docstore"
)

// Store keeps collections in maps guarded by one mutex
type Store struct {
	last        time.Time
	collections map[string]map[string]*docstore.Document
	watchers    map[int]*watcher
	now         func() time.Time
	newID       func() string
	nextWatch   int
	mu          sync.Mutex
}

// Option customizes a Store
type Option func(*Store)

// WithClock replaces the server clock
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces document id generation
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]*docstore.Document),
		watchers:    make(map[int]*watcher),
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert implements docstore.Store. Timestamps are strictly increasing.
func (s *Store) Insert(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if collection == "" {
		return nil, fmt.Errorf("collection cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts

	doc := &docstore.Document{
		ID:        s.newID(),
		CreatedAt: ts,
		Fields:    docstore.CloneFields(fields),
	}
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]*docstore.Document)
		s.collections[collection] = coll
	}
	if _, exists := coll[doc.ID]; exists {
		return nil, fmt.Errorf("document id %s already exists", doc.ID)
	}
	coll[doc.ID] = doc
	s.notifyLocked(collection)

	return copyDoc(doc), nil
}

// Get implements docstore.Store
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return copyDoc(doc), nil
}

// Delete implements docstore.Store
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[collection]
	if _, ok := coll[id]; !ok {
		return docstore.ErrNotFound
	}
	delete(coll, id)
	s.notifyLocked(collection)
	return nil
}

// Len returns the number of documents in a collection
func (s *Store) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// Watch implements docstore.Store. The initial snapshot is queued before Watch returns.
func (s *Store) Watch(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Watch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := &watcher{store: s, id: s.nextWatch, query: q, handler: h}
	w.cond = sync.NewCond(&w.mu)
	s.nextWatch++
	s.watchers[w.id] = w
	w.enqueue(delivery{docs: s.snapshotLocked(q)})
	go w.run()
	return w, nil
}

// FailWatches terminates every watch on collection with err, as a lost connection would
func (s *Store) FailWatches(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watchers {
		if w.query.Collection == collection {
			w.enqueue(delivery{err: err})
			delete(s.watchers, id)
		}
	}
}

// notifyLocked queues a fresh snapshot for every watcher of collection. Caller holds s.mu,
// so snapshots are queued in commit order.
func (s *Store) notifyLocked(collection string) {
	for _, w := range s.watchers {
		if w.query.Collection == collection {
			w.enqueue(delivery{docs: s.snapshotLocked(w.query)})
		}
	}
}

func (s *Store) snapshotLocked(q docstore.Query) []*docstore.Document {
	coll := s.collections[q.Collection]
	docs := make([]*docstore.Document, 0, len(coll))
	for _, d := range coll {
		docs = append(docs, copyDoc(d))
	}
	docstore.SortDocuments(docs, q.Descending)
	return docs
}

func (s *Store) removeWatcher(id int) {
	s.mu.Lock()
	delete(s.watchers, id)
	s.mu.Unlock()
}

type delivery struct {
	err  error
	docs []*docstore.Document
}

// watcher delivers queued snapshots on its own goroutine, one at a time, in order
type watcher struct {
	handler docstore.Handler
	store   *Store
	cond    *sync.Cond
	query   docstore.Query
	queue   []delivery
	id      int
	mu      sync.Mutex
	stopped bool
}

func (w *watcher) enqueue(d delivery) {
	w.mu.Lock()
	if !w.stopped {
		w.queue = append(w.queue, d)
		w.cond.Signal()
	}
	w.mu.Unlock()
}

func (w *watcher) run() {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if w.stopped {
			w.mu.Unlock()
			return
		}
		d := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if d.err != nil {
			w.handler.OnError(d.err)
			w.Stop()
			return
		}
		w.handler.OnSnapshot(d.docs)
	}
}

// Stop implements docstore.Watch
func (w *watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.queue = nil
	w.cond.Broadcast()
	w.mu.Unlock()
	w.store.removeWatcher(w.id)
}

func copyDoc(d *docstore.Document) *docstore.Document {
	return &docstore.Document{
		ID:        d.ID,
		CreatedAt: d.CreatedAt,
		Fields:    docstore.CloneFields(d.Fields),
	}
}
