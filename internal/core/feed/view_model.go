// Package feed turns the push-based post subscription into pull-style view state.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"Huddle/internal/core/identity"
	"Huddle/internal/core/posts"
)

var (
	// ErrAlreadyMounted is returned by Mount when the view already holds a subscription
	ErrAlreadyMounted = errors.New("feed view already mounted")

	// ErrNotMounted is returned by Refresh and Retry on an unmounted view
	ErrNotMounted = errors.New("feed view not mounted")
)

// Phase is the position of the view in its state machine
type Phase string

const (
	// PhaseLoading means a subscription is established but no snapshot has arrived
	PhaseLoading Phase = "loading"
	// PhaseLoaded means Posts holds the latest snapshot verbatim
	PhaseLoaded Phase = "loaded"
	// PhaseRefreshing means a user refresh is in flight and Posts was cleared
	PhaseRefreshing Phase = "refreshing"
	// PhaseError means the subscription failed; Posts is empty until Retry
	PhaseError Phase = "error"
)

// Source is the part of the post repository the view depends on
type Source interface {
	Create(ctx context.Context, req posts.CreatePostRequest) (string, error)
	Delete(ctx context.Context, postID string) (*posts.DeleteResult, error)
	Subscribe(ctx context.Context, observer posts.Observer) (posts.Subscription, error)
}

// State is the presentation-ready view of the feed
type State struct {
	Err        error        `json:"-"`
	Phase      Phase        `json:"phase"`
	Posts      []posts.Post `json:"posts"`
	Loading    bool         `json:"loading"`
	Refreshing bool         `json:"refreshing"`
	// Version increases with every transition
	Version uint64 `json:"version"`
}

func newState(phase Phase, list []posts.Post, err error) State {
	if list == nil {
		list = []posts.Post{}
	}
	return State{
		Phase:      phase,
		Posts:      list,
		Err:        err,
		Loading:    phase == PhaseLoading,
		Refreshing: phase == PhaseRefreshing,
	}
}

// ViewModel owns the single active subscription of one feed view.
// Each subscription gets a generation number; callbacks from an older generation,
// or arriving after Unmount, never touch state.
type ViewModel struct {
	source     Source
	sub        posts.Subscription
	listeners  map[int]func(State)
	state      State
	generation uint64
	version    uint64
	delivered  uint64
	nextID     int
	mu         sync.Mutex
	notifyMu   sync.Mutex
	mounted    bool
	tornDown   bool
}

// NewViewModel creates an unmounted view in the loading phase
func NewViewModel(source Source) *ViewModel {
	return &ViewModel{
		source:    source,
		state:     newState(PhaseLoading, nil, nil),
		listeners: make(map[int]func(State)),
	}
}

// State returns a copy of the current state
func (vm *ViewModel) State() State {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return copyState(vm.state)
}

// OnChange registers fn to run after state transitions. Listeners are called one
// transition at a time, in transition order, and never see an older state after a newer one;
// a burst of transitions may be reported once with the newest state.
// fn must not call back into the view model. The returned function removes it.
func (vm *ViewModel) OnChange(fn func(State)) func() {
	vm.mu.Lock()
	id := vm.nextID
	vm.nextID++
	vm.listeners[id] = fn
	vm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			vm.mu.Lock()
			delete(vm.listeners, id)
			vm.mu.Unlock()
		})
	}
}

// Mount subscribes to the feed
func (vm *ViewModel) Mount(ctx context.Context) error {
	vm.mu.Lock()
	if vm.mounted {
		vm.mu.Unlock()
		return ErrAlreadyMounted
	}
	vm.mounted = true
	vm.tornDown = false
	gen := vm.transitionLocked(newState(PhaseLoading, nil, nil))
	vm.mu.Unlock()

	vm.notify()
	return vm.subscribe(ctx, gen)
}

// Unmount cancels the subscription. Snapshots still in flight are discarded. Idempotent.
func (vm *ViewModel) Unmount() {
	vm.mu.Lock()
	if !vm.mounted {
		vm.mu.Unlock()
		return
	}
	vm.mounted = false
	vm.tornDown = true
	vm.generation++
	sub := vm.sub
	vm.sub = nil
	vm.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	slog.Debug("[FEED] view unmounted")
}

// Refresh clears the list and resubscribes. The old subscription is canceled first.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	return vm.resubscribe(ctx, PhaseRefreshing, false)
}

// Retry resubscribes after a subscription error. It does nothing in any other phase.
func (vm *ViewModel) Retry(ctx context.Context) error {
	return vm.resubscribe(ctx, PhaseLoading, true)
}

// CreatePost passes through to the source. The new post shows up with the next snapshot.
func (vm *ViewModel) CreatePost(ctx context.Context, req posts.CreatePostRequest) (string, error) {
	return vm.source.Create(ctx, req)
}

// DeletePost passes through to the source. The post disappears with the next snapshot.
func (vm *ViewModel) DeletePost(ctx context.Context, postID string) (*posts.DeleteResult, error) {
	return vm.source.Delete(ctx, postID)
}

// BindAuth ties the view's lifetime to a session: sign-out unmounts it and sign-in mounts it.
// The returned function detaches the binding.
func (vm *ViewModel) BindAuth(ctx context.Context, session *identity.Session) func() {
	return session.OnAuthStateChanged(func(u *identity.User) {
		if u == nil {
			vm.Unmount()
			return
		}
		if err := vm.Mount(ctx); err != nil && !errors.Is(err, ErrAlreadyMounted) {
			slog.Warn("[FEED] mount after sign-in failed", "user_id", u.ID, "error", err)
		}
	})
}

func (vm *ViewModel) resubscribe(ctx context.Context, phase Phase, onlyFromError bool) error {
	vm.mu.Lock()
	if !vm.mounted {
		vm.mu.Unlock()
		return ErrNotMounted
	}
	if onlyFromError && vm.state.Phase != PhaseError {
		vm.mu.Unlock()
		return nil
	}
	old := vm.sub
	vm.sub = nil
	gen := vm.transitionLocked(newState(phase, nil, nil))
	vm.mu.Unlock()

	if old != nil {
		old.Cancel()
	}
	vm.notify()
	return vm.subscribe(ctx, gen)
}

// transitionLocked replaces the state and starts a new generation. Caller holds vm.mu.
func (vm *ViewModel) transitionLocked(s State) uint64 {
	vm.generation++
	vm.setStateLocked(s)
	return vm.generation
}

// setStateLocked stamps s with the next version. Caller holds vm.mu.
func (vm *ViewModel) setStateLocked(s State) {
	vm.version++
	s.Version = vm.version
	vm.state = s
}

// subscribe opens a subscription for generation gen. The repository is called without
// holding vm.mu, since a store may deliver the first snapshot before Subscribe returns.
func (vm *ViewModel) subscribe(ctx context.Context, gen uint64) error {
	sub, err := vm.source.Subscribe(ctx, posts.ObserverFunc(func(s posts.Snapshot) {
		vm.apply(gen, s)
	}))

	vm.mu.Lock()
	current := vm.generation == gen && !vm.tornDown
	if err != nil {
		if current {
			vm.setStateLocked(newState(PhaseError, nil, err))
		}
		vm.mu.Unlock()
		if current {
			vm.notify()
		}
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if !current {
		vm.mu.Unlock()
		sub.Cancel()
		return nil
	}
	vm.sub = sub
	vm.mu.Unlock()
	return nil
}

func (vm *ViewModel) apply(gen uint64, s posts.Snapshot) {
	vm.mu.Lock()
	if vm.tornDown || gen != vm.generation {
		vm.mu.Unlock()
		slog.Debug("[FEED] discarding stale snapshot", "generation", gen)
		return
	}
	if s.Err != nil {
		vm.setStateLocked(newState(PhaseError, nil, s.Err))
		vm.sub = nil
	} else {
		vm.setStateLocked(newState(PhaseLoaded, s.Posts, nil))
	}
	vm.mu.Unlock()
	vm.notify()
}

// notify reports the current state. Deliveries are serialized by notifyMu, and a state
// already reported (or superseded by one that was) is skipped.
func (vm *ViewModel) notify() {
	vm.notifyMu.Lock()
	defer vm.notifyMu.Unlock()

	vm.mu.Lock()
	if vm.state.Version <= vm.delivered {
		vm.mu.Unlock()
		return
	}
	vm.delivered = vm.state.Version
	s := copyState(vm.state)
	fns := make([]func(State), 0, len(vm.listeners))
	for _, fn := range vm.listeners {
		fns = append(fns, fn)
	}
	vm.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func copyState(s State) State {
	cp := s
	cp.Posts = make([]posts.Post, len(s.Posts))
	copy(cp.Posts, s.Posts)
	return cp
}
