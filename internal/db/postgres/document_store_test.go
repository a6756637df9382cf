package postgres

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Huddle/internal/core/docstore"
	"Huddle/internal/db/migrations"
)

// setupTestDB opens TEST_DATABASE_URL and migrates it; tests skip when it is unset
func setupTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL document store tests")
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	require.NoError(t, db.Ping())
	require.NoError(t, migrations.Up(context.Background(), db, migrations.Postgres))

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close database: %v", err)
		}
	})
	return db, dsn
}

type recorder struct {
	errs      []error
	snapshots [][]*docstore.Document
	mu        sync.Mutex
}

func (r *recorder) OnSnapshot(docs []*docstore.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, docs)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) latest() ([]*docstore.Document, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snapshots) == 0 {
		return nil, 0
	}
	return r.snapshots[len(r.snapshots)-1], len(r.snapshots)
}

func TestDocumentStore_CRUD(t *testing.T) {
	db, dsn := setupTestDB(t)
	store := NewDocumentStore(db, dsn)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()

	doc, err := store.Insert(ctx, collection, map[string]interface{}{"content": "hello", "mediaUrl": nil})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.WithinDuration(t, time.Now(), doc.CreatedAt, time.Minute)

	got, err := store.Get(ctx, collection, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.String("content"))
	assert.Equal(t, doc.CreatedAt.Truncate(time.Microsecond), got.CreatedAt.Truncate(time.Microsecond))

	require.NoError(t, store.Delete(ctx, collection, doc.ID))
	_, err = store.Get(ctx, collection, doc.ID)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, collection, doc.ID), docstore.ErrNotFound)
}

func TestDocumentStore_Watch(t *testing.T) {
	db, dsn := setupTestDB(t)
	store := NewDocumentStore(db, dsn)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()

	first, err := store.Insert(ctx, collection, map[string]interface{}{"content": "first"})
	require.NoError(t, err)

	rec := &recorder{}
	w, err := store.Watch(ctx, docstore.Query{Collection: collection, Descending: true}, rec)
	require.NoError(t, err)
	defer w.Stop()

	require.Eventually(t, func() bool { _, n := rec.latest(); return n == 1 }, 5*time.Second, 20*time.Millisecond)

	second, err := store.Insert(ctx, collection, map[string]interface{}{"content": "second"})
	require.NoError(t, err)
	// Changes to other collections are ignored
	_, err = store.Insert(ctx, collection+"_other", map[string]interface{}{"content": "noise"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { _, n := rec.latest(); return n == 2 }, 5*time.Second, 20*time.Millisecond)
	docs, _ := rec.latest()
	require.Len(t, docs, 2)
	assert.Equal(t, second.ID, docs[0].ID)
	assert.Equal(t, first.ID, docs[1].ID)

	require.NoError(t, store.Delete(ctx, collection, first.ID))
	require.Eventually(t, func() bool {
		docs, n := rec.latest()
		return n == 3 && len(docs) == 1
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	w.Stop()
	_, err = store.Insert(ctx, collection, map[string]interface{}{"content": "after stop"})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	_, n := rec.latest()
	assert.Equal(t, 3, n)
}

func TestDocumentStore_WatchFailsWhenDatabaseUnreachable(t *testing.T) {
	// Nothing listens on port 1, so the first connection attempt is refused
	store := NewDocumentStore(nil, "postgres://huddle@127.0.0.1:1/huddle?sslmode=disable")
	rec := &recorder{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	w, err := store.Watch(ctx, docstore.Query{Collection: "posts"}, rec)
	require.Error(t, err)
	assert.Nil(t, w)
	assert.ErrorIs(t, err, ErrListenerDisconnected)
	assert.Less(t, time.Since(start), 4*time.Second)

	snaps, n := rec.latest()
	assert.Nil(t, snaps)
	assert.Zero(t, n)
}

func TestDocumentStore_WatchHonorsContext(t *testing.T) {
	// A server that accepts connections and never answers the startup message
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		held []net.Conn
		mu   sync.Mutex
	)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})

	store := NewDocumentStore(nil, "postgres://huddle@"+ln.Addr().String()+"/huddle?sslmode=disable")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := store.Watch(ctx, docstore.Query{Collection: "posts"}, &recorder{})
		done <- err
	}()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after its context ended")
	}
}
