package routes

import (
	"github.com/go-chi/chi/v5"

	"Huddle/internal/api/handlers/feed"
	"Huddle/internal/api/middleware"
	feedview "Huddle/internal/core/feed"
)

// RegisterFeedRoutes registers the live feed stream.
// Authentication is optional: the feed is public, the token only tags the connection.
func RegisterFeedRoutes(r chi.Router, source feedview.Source, authMiddleware *middleware.AuthMiddleware, allowedOrigins []string) {
	streamHandler := feed.NewStreamHandler(source, allowedOrigins)

	// GET /api/feed/stream (websocket)
	r.With(authMiddleware.OptionalAuth).Get("/api/feed/stream", streamHandler.HandleStream)
}
