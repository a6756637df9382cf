package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterMediaRoutes serves stored media under /media/. Only the disk blob store needs this;
// hosted stores return their own URLs.
func RegisterMediaRoutes(r chi.Router, blobs http.Handler) {
	r.Handle("/media/*", http.StripPrefix("/media", blobs))
}
