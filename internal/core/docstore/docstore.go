package docstore

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound is returned when a document id does not exist in the collection
	ErrNotFound = errors.New("document not found")

	// ErrWatchClosed is delivered to a watch handler when the underlying change feed
	// terminates without a more specific cause
	ErrWatchClosed = errors.New("watch channel closed")
)

// Document is a stored record. ID and CreatedAt are assigned by the store, never by the client.
type Document struct {
	CreatedAt time.Time
	Fields    map[string]interface{}
	ID        string
}

// String returns the named field as a string, or "" when absent or not a string.
func (d *Document) String(field string) string {
	if d == nil || d.Fields == nil {
		return ""
	}
	s, _ := d.Fields[field].(string)
	return s
}

// Query selects a whole collection ordered by server creation time.
type Query struct {
	Collection string
	Descending bool
}

// Handler receives watch deliveries. OnSnapshot always carries the full ordered result set.
// OnError is terminal: no OnSnapshot follows it.
type Handler interface {
	OnSnapshot(docs []*Document)
	OnError(err error)
}

// Watch is a live query. Stop detaches it; it is safe to call more than once.
type Watch interface {
	Stop()
}

// Store is the document database boundary.
//
// Implementations must deliver the snapshots of one watch sequentially and in the order the
// server observed the changes, and the first snapshot must reflect the collection at attach time.
type Store interface {
	// Insert writes a new document and returns it with its generated id and server timestamp
	Insert(ctx context.Context, collection string, fields map[string]interface{}) (*Document, error)

	// Get reads one document, returning ErrNotFound when it does not exist
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Delete removes one document, returning ErrNotFound when it does not exist
	Delete(ctx context.Context, collection, id string) error

	// Watch attaches a live query
	Watch(ctx context.Context, q Query, h Handler) (Watch, error)
}

// SortDocuments orders docs by CreatedAt, breaking ties on ID ascending so the order is total.
func SortDocuments(docs []*Document, descending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if descending {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// CloneFields returns a shallow copy so callers cannot mutate stored state.
func CloneFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
