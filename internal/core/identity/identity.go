package identity

import (
	"context"
	"sync"
)

type contextKey string

const userKey contextKey = "identity.user"

// User is the signed-in account as reported by the identity provider.
// ID is trusted as the authorship key for posts.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Provider reports the current user, or nil when nobody is signed in
type Provider interface {
	CurrentUser(ctx context.Context) *User
}

// WithUser returns a context carrying the authenticated user
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext extracts the authenticated user from the context
// Returns nil if not authenticated
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey).(*User)
	return u
}

// ContextProvider resolves the current user from the request context.
// The auth middleware places the verified user there.
type ContextProvider struct{}

// CurrentUser implements Provider
func (ContextProvider) CurrentUser(ctx context.Context) *User {
	return UserFromContext(ctx)
}

// Session holds a single current user and notifies listeners on sign-in and sign-out.
// It serves long-lived holders (a feed view bound to one account) where no request context exists.
type Session struct {
	user      *User
	listeners map[int]func(*User)
	nextID    int
	mu        sync.RWMutex
}

// NewSession creates a signed-out session
func NewSession() *Session {
	return &Session{listeners: make(map[int]func(*User))}
}

// CurrentUser implements Provider. The context is ignored.
func (s *Session) CurrentUser(_ context.Context) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// SignIn replaces the current user and notifies listeners
func (s *Session) SignIn(u User) {
	s.set(&u)
}

// SignOut clears the current user and notifies listeners
func (s *Session) SignOut() {
	s.set(nil)
}

// OnAuthStateChanged registers fn to be called after every sign-in or sign-out.
// The returned function removes the listener.
func (s *Session) OnAuthStateChanged(fn func(*User)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) set(u *User) {
	s.mu.Lock()
	s.user = u
	fns := make([]func(*User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	// Listeners run outside the lock so they may call back into the session
	for _, fn := range fns {
		if u == nil {
			fn(nil)
			continue
		}
		cp := *u
		fn(&cp)
	}
}
