// Package mongo is a MongoDB document store. Watches use change streams, which require
// a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"Huddle/internal/core/docstore"
)

// Connect opens a client and pings it
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	slog.Info("[DOCSTORE] connected to MongoDB")
	return client, nil
}

// stored is the on-disk shape. Fields are nested so they can never clash with _id or createdAt.
type stored struct {
	CreatedAt time.Time `bson:"createdAt"`
	Fields    bson.M    `bson:"fields"`
	ID        string    `bson:"_id"`
}

func (s stored) document() *docstore.Document {
	fields := make(map[string]interface{}, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	return &docstore.Document{ID: s.ID, CreatedAt: s.CreatedAt.UTC(), Fields: fields}
}

type documentStore struct {
	db      *mongo.Database
	indexed sync.Map
}

// NewDocumentStore creates a store where each docstore collection is a MongoDB collection of db
func NewDocumentStore(db *mongo.Database) docstore.Store {
	return &documentStore{db: db}
}

// ensureIndex creates the feed ordering index once per collection
func (s *documentStore) ensureIndex(ctx context.Context, coll *mongo.Collection) {
	if _, done := s.indexed.LoadOrStore(coll.Name(), true); done {
		return
	}
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		s.indexed.Delete(coll.Name())
		slog.Warn("[DOCSTORE] failed to create createdAt index", "collection", coll.Name(), "error", err)
	}
}

// Insert upserts a fresh id; $currentDate makes the server assign createdAt
func (s *documentStore) Insert(ctx context.Context, collection string, fields map[string]interface{}) (*docstore.Document, error) {
	coll := s.db.Collection(collection)
	s.ensureIndex(ctx, coll)

	id := uuid.NewString()
	update := bson.M{
		"$setOnInsert": bson.M{"fields": bson.M(docstore.CloneFields(fields))},
		"$currentDate": bson.M{"createdAt": true},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out stored
	if err := coll.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return out.document(), nil
}

// Get reads one document
func (s *documentStore) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	var out stored
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return out.document(), nil
}

// Delete removes one document
func (s *documentStore) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if res.DeletedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// Watch opens the change stream before the initial read so no change is missed
func (s *documentStore) Watch(ctx context.Context, q docstore.Query, h docstore.Handler) (docstore.Watch, error) {
	coll := s.db.Collection(q.Collection)

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := coll.Watch(watchCtx, mongo.Pipeline{})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	initial, err := list(ctx, coll, q)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}

	w := &changeWatch{coll: coll, query: q, handler: h, stream: stream, ctx: watchCtx, cancel: cancel}
	go w.run(initial)
	return w, nil
}

func list(ctx context.Context, coll *mongo.Collection, q docstore.Query) ([]*docstore.Document, error) {
	dir := 1
	if q.Descending {
		dir = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: dir}, {Key: "_id", Value: 1}})

	cursor, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	var rows []stored
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	docs := make([]*docstore.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	docstore.SortDocuments(docs, q.Descending)
	return docs, nil
}

type changeWatch struct {
	ctx     context.Context
	handler docstore.Handler
	coll    *mongo.Collection
	stream  *mongo.ChangeStream
	cancel  context.CancelFunc
	query   docstore.Query
}

func (w *changeWatch) run(initial []*docstore.Document) {
	defer func() { _ = w.stream.Close(context.Background()) }()

	if w.ctx.Err() != nil {
		return
	}
	w.handler.OnSnapshot(initial)

	for w.stream.Next(w.ctx) {
		docs, err := list(w.ctx, w.coll, w.query)
		if w.ctx.Err() != nil {
			return
		}
		if err != nil {
			w.handler.OnError(err)
			w.cancel()
			return
		}
		w.handler.OnSnapshot(docs)
	}

	if w.ctx.Err() != nil {
		return
	}
	err := w.stream.Err()
	if err == nil {
		err = docstore.ErrWatchClosed
	}
	slog.Error("[DOCSTORE] change stream ended", "collection", w.query.Collection, "error", err)
	w.handler.OnError(err)
	w.cancel()
}

// Stop implements docstore.Watch
func (w *changeWatch) Stop() {
	w.cancel()
}
