package store

import (
	"sync"
	"sync/atomic"
)

// Store owns the current State and publishes every new snapshot to its subscribers.
type Store struct {
	// current holds the latest published snapshot.
	current atomic.Pointer[State]

	// mu serializes transitions and subscriber bookkeeping.
	mu sync.Mutex

	// subs maps subscription ids to their latest-value channels.
	subs   map[int]chan State
	nextID int
}

// New returns a Store holding the empty state.
func New() *Store {
	s := &Store{subs: make(map[int]chan State)}
	initial := Empty()
	s.current.Store(&initial)
	return s
}

// Snapshot returns the latest published state.
func (s *Store) Snapshot() State {
	return *s.current.Load()
}

// Update applies fn to the current state, publishes the result and returns it.
// fn must not modify slices or sets reachable from its argument.
func (s *Store) Update(fn func(State) State) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := fn(*s.current.Load())
	s.current.Store(&next)
	s.publishLocked(next)
	return next
}

// TryUpdate is Update for transitions that may be rejected. On error nothing is published.
func (s *Store) TryUpdate(fn func(State) (State, error)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(*s.current.Load())
	if err != nil {
		return *s.current.Load(), err
	}
	s.current.Store(&next)
	s.publishLocked(next)
	return next, nil
}

// Reset wipes all chat state and publishes the empty state.
func (s *Store) Reset() {
	s.Update(func(State) State { return Empty() })
}

// Subscribe returns a channel that always yields the most recent snapshot and a cancel func.
// Slow readers skip intermediate snapshots but never miss the latest one.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	ch := make(chan State, 1)
	ch <- *s.current.Load()
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publishLocked(next State) {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
}
