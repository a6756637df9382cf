package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// WriteError writes a standardized JSON error response
func WriteError(w http.ResponseWriter, statusCode int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   errorType,
		"message": message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// NotFound is the router fallback for unknown paths
func NotFound(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusNotFound, "NotFound", "Resource not found")
}

// MethodNotAllowed is the router fallback for known paths with the wrong method
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Method not allowed")
}
