package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	_ "github.com/lib/pq"

	"Huddle/internal/api/routes"
	"Huddle/internal/config"
	"Huddle/internal/core/blobstore"
	"Huddle/internal/core/docstore"
	"Huddle/internal/db/memory"
	"Huddle/internal/db/migrations"
	mongostore "Huddle/internal/db/mongo"
	"Huddle/internal/db/postgres"
	"Huddle/internal/db/sqlite"
	"Huddle/internal/storage/breaker"
	"Huddle/internal/storage/cloudinary"
	"Huddle/internal/storage/disk"
)

// backends holds the selected stores and what it takes to shut them down
type backends struct {
	docs     docstore.Store
	blobs    blobstore.Store
	media    http.Handler
	checks   map[string]routes.HealthCheck
	closers  []func(context.Context) error
	docKind  string
	blobKind string
}

func (b *backends) close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			slog.Warn("[SHUTDOWN] failed to close backend", "error", err)
		}
	}
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{
		checks:   make(map[string]routes.HealthCheck),
		docKind:  cfg.DocStore,
		blobKind: cfg.BlobStore,
	}
	if err := b.openDocStore(ctx, cfg); err != nil {
		b.close(ctx)
		return nil, err
	}
	if err := b.openBlobStore(cfg); err != nil {
		b.close(ctx)
		return nil, err
	}
	return b, nil
}

func (b *backends) openDocStore(ctx context.Context, cfg config.Config) error {
	switch cfg.DocStore {
	case config.DocStoreMemory:
		slog.Warn("[DOCSTORE] using in-memory store; posts are lost on restart")
		b.docs = memory.NewStore()

	case config.DocStorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error { return db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		if err := migrations.Up(ctx, db, migrations.Postgres); err != nil {
			return err
		}
		b.docs = postgres.NewDocumentStore(db, cfg.DatabaseURL)
		b.checks["docstore"] = db.PingContext

	case config.DocStoreMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, client.Disconnect)
		b.docs = mongostore.NewDocumentStore(client.Database(cfg.MongoDatabase))
		b.checks["docstore"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

	case config.DocStoreSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func(context.Context) error { return store.Close() })
		b.docs = store

	default:
		return fmt.Errorf("%w: %q", config.ErrUnknownDocStore, cfg.DocStore)
	}

	slog.Info("[DOCSTORE] ready", "backend", cfg.DocStore)
	return nil
}

func (b *backends) openBlobStore(cfg config.Config) error {
	switch cfg.BlobStore {
	case config.BlobStoreDisk:
		store, err := disk.NewStore(cfg.MediaRoot, cfg.MediaBaseURL)
		if err != nil {
			return err
		}
		b.blobs = store
		b.media = store.Handler()

	case config.BlobStoreCloudinary:
		store, err := cloudinary.NewFromURL(cfg.CloudinaryURL)
		if err != nil {
			return err
		}
		guarded := breaker.Wrap(store, breaker.DefaultConfig())
		b.blobs = guarded
		b.checks["blobstore"] = func(context.Context) error {
			for op, state := range guarded.Stats() {
				if state != "closed" {
					return fmt.Errorf("%s circuit %s", op, state)
				}
			}
			return nil
		}

	default:
		return fmt.Errorf("%w: %q", config.ErrUnknownBlobStore, cfg.BlobStore)
	}

	slog.Info("[BLOBSTORE] ready", "backend", cfg.BlobStore)
	return nil
}
