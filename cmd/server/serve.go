package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"Huddle/internal/api/handlers"
	"Huddle/internal/api/middleware"
	"Huddle/internal/api/routes"
	"Huddle/internal/config"
	"Huddle/internal/core/identity"
	"Huddle/internal/core/media"
	"Huddle/internal/core/posts"
)

const shutdownTimeout = 20 * time.Second

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; overrides HTTP_ADDR")
	return cmd
}

func runServe(parent context.Context, addrOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	if addrOverride != "" {
		cfg.HTTPAddr = addrOverride
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		b.close(closeCtx)
	}()

	pipeline, err := media.NewPipeline(b.blobs, cfg.Media)
	if err != nil {
		return fmt.Errorf("failed to create media pipeline: %w", err)
	}

	repoOpts := []posts.Option{}
	if cfg.DefaultAvatar != "" {
		repoOpts = append(repoOpts, posts.WithDefaultAvatar(cfg.DefaultAvatar))
	}
	repo := posts.NewRepository(b.docs, b.blobs, pipeline, identity.ContextProvider{}, repoOpts...)

	verifier, err := middleware.NewTokenVerifier(ctx, middleware.VerifierConfig{
		HS256Secret: cfg.AuthSecret,
		JWKSURL:     cfg.AuthJWKSURL,
		Issuer:      cfg.AuthIssuer,
	})
	if err != nil {
		return fmt.Errorf("failed to create token verifier: %w", err)
	}
	authMiddleware := middleware.NewAuthMiddleware(verifier)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMin, time.Minute)
	defer rateLimiter.Close()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.NotFound(handlers.NotFound)
	r.MethodNotAllowed(handlers.MethodNotAllowed)

	r.Group(func(api chi.Router) {
		// Identify the caller first so authenticated clients are limited per user
		api.Use(authMiddleware.OptionalAuth)
		api.Use(rateLimiter.Middleware)
		routes.RegisterPostRoutes(api, repo, authMiddleware, cfg.Media.MaxSourceBytes, "")
		routes.RegisterFeedRoutes(api, repo, authMiddleware, cfg.CORSOrigins)
	})
	if b.media != nil {
		routes.RegisterMediaRoutes(r, b.media)
	}
	routes.RegisterHealthRoutes(r, b.checks)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: feed streams stay open
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[SERVER] listening",
			"addr", cfg.HTTPAddr,
			"docstore", b.docKind,
			"blobstore", b.blobKind,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("[SERVER] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
