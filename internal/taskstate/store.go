package taskstate

import "sync"

// Store owns the tracked task. All mutation goes through Apply.
type Store struct {
	mu    sync.RWMutex
	state State
	subs  map[<-chan State]chan State
}

// NewStore returns a store in the idle phase.
func NewStore() *Store {
	return &Store{
		state: Idle(),
		subs:  make(map[<-chan State]chan State),
	}
}

// Apply reduces a into the current state. It reports whether the action was
// accepted; subscribers are notified only for accepted actions, in order.
func (s *Store) Apply(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Reduce(s.state, a)
	if next.Version == s.state.Version {
		return false
	}
	s.state = next
	for _, ch := range s.subs {
		deliverLatest(ch, next.Clone())
	}
	return true
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// TaskID returns the tracked task id, or "".
func (s *Store) TaskID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TaskID
}

// Subscribe returns a channel receiving a snapshot after every accepted
// action. A slow subscriber loses intermediate snapshots but always ends up
// with the latest one.
func (s *Store) Subscribe(buffer int) <-chan State {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan State, buffer)
	s.mu.Lock()
	s.subs[ch] = ch
	s.mu.Unlock()
	return ch
}

// Unsubscribe stops delivery and closes the channel.
func (s *Store) Unsubscribe(ch <-chan State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if full, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(full)
	}
}

func deliverLatest(ch chan State, snapshot State) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	// Full: drop the oldest pending snapshot to make room.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}
