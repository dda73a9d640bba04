package status

import (
	"sync"
	"time"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
)

// Status is the observable connection status.
type Status string

const (
	Disconnected Status = "disconnected"
	Connecting   Status = "connecting"
	Connected    Status = "connected"
	Paused       Status = "paused"
	Error        Status = "error"
)

// State is a snapshot of connection observability. It carries no behavior;
// the realtime manager is its only writer, everything else reads.
type State struct {
	Status          Status
	SocketID        string
	Transport       string // "websocket" or "polling"
	Attempts        int
	LastError       string
	LastConnectedAt time.Time
	DisabledUntil   time.Time
}

// Store is the single source of truth for connection state. Every mutation
// publishes the new snapshot on the bus so observers re-render.
type Store struct {
	mu    sync.RWMutex
	state State
	bus   *bus.Bus
}

// NewStore creates a store in the disconnected state.
func NewStore(b *bus.Bus) *Store {
	return &Store{
		state: State{Status: Disconnected},
		bus:   b,
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetStatus overwrites the status unconditionally.
func (s *Store) SetStatus(st Status) {
	s.mutate(func(state *State) {
		state.Status = st
	})
}

// SetConnected records a live connection: resets the attempt counter and
// last error, stamps LastConnectedAt.
func (s *Store) SetConnected(socketID, transport string) {
	s.mutate(func(state *State) {
		state.Status = Connected
		state.SocketID = socketID
		state.Transport = transport
		state.Attempts = 0
		state.LastError = ""
		state.DisabledUntil = time.Time{}
		state.LastConnectedAt = time.Now()
	})
}

// SetError records a transport failure with the caller-supplied attempt count.
func (s *Store) SetError(message string, attempts int) {
	s.mutate(func(state *State) {
		state.Status = Error
		state.LastError = message
		state.Attempts = attempts
	})
}

// SetTransport updates the transport without changing status. Used on
// transport upgrade (polling to websocket).
func (s *Store) SetTransport(transport string) {
	s.mutate(func(state *State) {
		state.Transport = transport
	})
}

// SetDisabledUntil records the circuit-breaker expiry and forces error status.
func (s *Store) SetDisabledUntil(t time.Time) {
	s.mutate(func(state *State) {
		state.Status = Error
		state.DisabledUntil = t
	})
}

// Reset returns the store to disconnected with all counters cleared.
func (s *Store) Reset() {
	s.mutate(func(state *State) {
		*state = State{Status: Disconnected}
	})
}

func (s *Store) mutate(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	snapshot := s.state
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Emit(bus.KindStatusChanged, snapshot)
	}
}
