package routes

import (
	"github.com/go-chi/chi/v5"

	"Huddle/internal/api/handlers/post"
	"Huddle/internal/api/middleware"
	"Huddle/internal/core/posts"
)

// RegisterPostRoutes registers the post write endpoints. Both require authentication.
// maxMediaBytes bounds the uploaded file before the media pipeline sees it.
func RegisterPostRoutes(r chi.Router, repo posts.Repository, authMiddleware *middleware.AuthMiddleware, maxMediaBytes int64, tempDir string) {
	createHandler := post.NewCreateHandler(repo, maxMediaBytes, tempDir)
	deleteHandler := post.NewDeleteHandler(repo)

	r.With(authMiddleware.RequireAuth).Post("/api/posts", createHandler.HandleCreate)

	// Only the author can delete a post
	r.With(authMiddleware.RequireAuth).Delete("/api/posts/{id}", deleteHandler.HandleDelete)
}
