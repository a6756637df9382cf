package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Huddle/internal/core/blobstore"
)

// flakyStore returns err from every call and counts calls
type flakyStore struct {
	err   error
	calls int
}

func (f *flakyStore) Put(context.Context, string, []byte, blobstore.Metadata) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.test/blob", nil
}

func (f *flakyStore) Delete(context.Context, string) error {
	f.calls++
	return f.err
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newBreaker(next blobstore.Store) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := Wrap(next, Config{FailureThreshold: 2, OpenDuration: time.Minute})
	s.now = clock.now
	return s, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	next := &flakyStore{err: errors.New("503 from upstream")}
	s, _ := newBreaker(next)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.Put(ctx, "p", nil, blobstore.Metadata{})
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, 2, next.calls)

	_, err := s.Put(ctx, "p", nil, blobstore.Metadata{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, next.calls, "open circuit does not call the store")
	assert.Equal(t, "open", s.Stats()["put"])

	// Circuits are per operation
	assert.NotErrorIs(t, s.Delete(ctx, "p"), ErrCircuitOpen)
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	next := &flakyStore{err: errors.New("timeout")}
	s, clock := newBreaker(next)
	ctx := context.Background()

	require.Error(t, s.Delete(ctx, "p"))
	require.Error(t, s.Delete(ctx, "p"))
	require.ErrorIs(t, s.Delete(ctx, "p"), ErrCircuitOpen)

	// A failed trial reopens the circuit
	clock.t = clock.t.Add(2 * time.Minute)
	err := s.Delete(ctx, "p")
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, s.Delete(ctx, "p"), ErrCircuitOpen)

	// A successful trial closes it
	clock.t = clock.t.Add(2 * time.Minute)
	next.err = nil
	assert.NoError(t, s.Delete(ctx, "p"))
	assert.Equal(t, "closed", s.Stats()["delete"])
	assert.NoError(t, s.Delete(ctx, "p"))
}

func TestBreaker_StoreAnswersAreNotFailures(t *testing.T) {
	tests := map[string]error{
		"not found":         blobstore.ErrNotFound,
		"permission denied": blobstore.ErrPermissionDenied,
		"invalid path":      blobstore.ErrInvalidPath,
		"canceled":          context.Canceled,
	}
	for name, storeErr := range tests {
		t.Run(name, func(t *testing.T) {
			next := &flakyStore{err: storeErr}
			s, _ := newBreaker(next)
			for i := 0; i < 5; i++ {
				assert.ErrorIs(t, s.Delete(context.Background(), "p"), storeErr)
			}
			assert.Equal(t, 5, next.calls)
		})
	}
}

func TestWrap_Defaults(t *testing.T) {
	s := Wrap(&flakyStore{}, Config{})
	assert.Equal(t, DefaultConfig(), s.cfg)

	url, err := s.Put(context.Background(), "p", []byte("x"), blobstore.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/blob", url)
}
