// Package breaker wraps a blob store with a circuit breaker so a failing remote store
// is skipped for a while instead of timing out every request.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Huddle/internal/core/blobstore"
)

// ErrCircuitOpen is returned without calling the store while the circuit is open
var ErrCircuitOpen = errors.New("blob store circuit open")

// circuitState represents the state of a circuit breaker
type circuitState int

const (
	stateClosed   circuitState = iota // Normal operation
	stateOpen                         // Store failing, calls rejected
	stateHalfOpen                     // Testing if the store recovered
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Config tunes the breaker
type Config struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// OpenDuration is how long the circuit stays open before one trial call
	OpenDuration time.Duration
}

// DefaultConfig opens after 3 consecutive failures for 30 seconds
func DefaultConfig() Config {
	return Config{FailureThreshold: 3, OpenDuration: 30 * time.Second}
}

// Store is a blobstore.Store guarded by one circuit per operation
type Store struct {
	next         blobstore.Store
	now          func() time.Time
	failures     map[string]int
	lastFailure  map[string]time.Time
	state        map[string]circuitState
	lastStateLog map[string]time.Time
	cfg          Config
	mu           sync.Mutex
}

// Wrap guards next with a circuit breaker
func Wrap(next blobstore.Store, cfg Config) *Store {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultConfig().OpenDuration
	}
	return &Store{
		next:         next,
		cfg:          cfg,
		now:          time.Now,
		failures:     make(map[string]int),
		lastFailure:  make(map[string]time.Time),
		state:        make(map[string]circuitState),
		lastStateLog: make(map[string]time.Time),
	}
}

// Put implements blobstore.Store
func (s *Store) Put(ctx context.Context, path string, data []byte, meta blobstore.Metadata) (string, error) {
	if err := s.canAttempt("put"); err != nil {
		return "", err
	}
	url, err := s.next.Put(ctx, path, data, meta)
	s.record("put", err)
	return url, err
}

// Delete implements blobstore.Store
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.canAttempt("delete"); err != nil {
		return err
	}
	err := s.next.Delete(ctx, path)
	s.record("delete", err)
	return err
}

// canAttempt reports whether op may call the store. An expired open circuit
// moves to half-open and lets one call through.
func (s *Store) canAttempt(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state[op] {
	case stateOpen:
		lastFail := s.lastFailure[op]
		if s.now().Sub(lastFail) > s.cfg.OpenDuration {
			s.state[op] = stateHalfOpen
			s.logStateChange(op, stateHalfOpen)
			return nil
		}
		return fmt.Errorf("%w for %s (failures: %d, next retry: %s)",
			ErrCircuitOpen, op, s.failures[op], lastFail.Add(s.cfg.OpenDuration).Format("15:04:05"))
	case stateHalfOpen:
		// One trial call is already in flight
		return fmt.Errorf("%w for %s (trial call in flight)", ErrCircuitOpen, op)
	default:
		return nil
	}
}

// record counts infrastructure failures. Answers from a healthy store
// (not found, permission denied, bad path) and caller cancellation count as success.
func (s *Store) record(op string, err error) {
	if err == nil || !countsAsFailure(err) {
		s.recordSuccess(op)
		return
	}
	s.recordFailure(op, err)
}

func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, blobstore.ErrNotFound),
		errors.Is(err, blobstore.ErrPermissionDenied),
		errors.Is(err, blobstore.ErrInvalidPath),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}

func (s *Store) recordSuccess(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldState := s.state[op]
	delete(s.failures, op)
	delete(s.lastFailure, op)
	s.state[op] = stateClosed
	if oldState != stateClosed {
		s.logStateChange(op, stateClosed)
	}
}

func (s *Store) recordFailure(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[op]++
	s.lastFailure[op] = s.now()
	failCount := s.failures[op]

	oldState := s.state[op]
	if oldState == stateHalfOpen || failCount >= s.cfg.FailureThreshold {
		s.state[op] = stateOpen
		if oldState != stateOpen {
			slog.Warn("[BLOB-CIRCUIT] opening circuit",
				"op", op,
				"failures", failCount,
				"error", err,
			)
			s.lastStateLog[op] = s.now()
		}
		return
	}
	slog.Info("[BLOB-CIRCUIT] failure recorded",
		"op", op,
		"failures", failCount,
		"threshold", s.cfg.FailureThreshold,
		"error", err,
	)
}

// logStateChange logs at most once per minute per operation. Caller holds s.mu.
func (s *Store) logStateChange(op string, newState circuitState) {
	if last, ok := s.lastStateLog[op]; ok && s.now().Sub(last) < time.Minute {
		return
	}
	slog.Info("[BLOB-CIRCUIT] state changed", "op", op, "state", newState.String())
	s.lastStateLog[op] = s.now()
}

// Stats returns the state of each circuit, for health reporting
func (s *Store) Stats() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]string, len(s.state))
	for op, st := range s.state {
		stats[op] = st.String()
	}
	return stats
}
