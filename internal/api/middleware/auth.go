package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"Huddle/internal/core/identity"
)

// Verifier turns a bearer token into a user
type Verifier interface {
	Verify(ctx context.Context, token string) (*identity.User, error)
}

// AuthMiddleware authenticates requests with bearer tokens from the identity provider.
// The verified user is stored in the request context with identity.WithUser.
type AuthMiddleware struct {
	verifier Verifier
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireAuth middleware ensures the user is authenticated with a valid token
// If not authenticated, returns 401
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractToken(r)
		if !ok {
			writeAuthError(w, "Missing Authorization header")
			return
		}

		user, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Warn("[AUTH_FAILURE] token verification failed",
				"ip", r.RemoteAddr,
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
			writeAuthError(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
	})
}

// OptionalAuth middleware loads user info if authenticated, but doesn't require it.
// Invalid tokens are treated as anonymous.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractToken(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Debug("[AUTH] optional auth failed", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
	})
}

// extractToken reads the bearer token from the Authorization header, or from the
// access_token query parameter for websocket upgrades where browsers cannot set headers
func extractToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		return token, token != ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token, true
	}
	return "", false
}

// GetUser extracts the authenticated user from the request context
// Returns nil if not authenticated
func GetUser(r *http.Request) *identity.User {
	return identity.UserFromContext(r.Context())
}

// writeAuthError writes a JSON error response for authentication failures
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "AuthenticationRequired",
		"message": message,
	}); err != nil {
		slog.Error("failed to write auth error response", "error", err)
	}
}
