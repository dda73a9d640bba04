package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/observability"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/status"
)

// ErrCircuitOpen is returned by Connect while the circuit breaker cooldown
// is still running.
var ErrCircuitOpen = errors.New("reconnection paused by circuit breaker")

// ErrNoIdentity is returned by Resume after an explicit disconnect cleared
// the retained credentials.
var ErrNoIdentity = errors.New("no retained identity")

// Identity is the session credential pair. The manager holds a copy for the
// duration of one connection and discards it on explicit disconnect.
type Identity struct {
	UserID string
	Token  string
}

// Handler receives the raw payload of one server event. Handlers run on the
// connection's read loop, so delivery order matches server-send order.
type Handler func(data json.RawMessage)

// Config tunes the reconnection policy.
type Config struct {
	URL             string
	MaxAttempts     int           // consecutive failures before the breaker engages
	BackoffStart    time.Duration // first retry delay
	BackoffCap      time.Duration // retry delay ceiling
	BreakerCooldown time.Duration // how long the breaker refuses connects
}

func (c *Config) defaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 6
	}
	if c.BackoffStart == 0 {
		c.BackoffStart = time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 5 * time.Second
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 120 * time.Second
	}
}

// Manager owns the single physical connection for the session. It drives the
// status store, retries with linear-capped backoff, engages a circuit breaker
// after repeated failures, and fans server events out to registered handlers.
type Manager struct {
	cfg       Config
	transport Transport
	store     *status.Store
	bus       *bus.Bus
	logger    *zap.Logger

	mu            sync.Mutex
	conn          Conn
	identity      *Identity
	paused        bool
	attempts      int
	disabledUntil time.Time
	retryTimer    *time.Timer
	gen           int // bumped on every teardown; stale read loops check it

	handlersMu sync.RWMutex
	handlers   map[string]map[int]Handler
	nextSub    int
}

// NewManager creates a manager. It is constructed once at the composition
// root and injected; nothing else may open a competing connection.
func NewManager(cfg Config, transport Transport, store *status.Store, b *bus.Bus, logger *zap.Logger) *Manager {
	cfg.defaults()
	return &Manager{
		cfg:       cfg,
		transport: transport,
		store:     store,
		bus:       b,
		logger:    logger,
		handlers:  make(map[string]map[int]Handler),
	}
}

// UserID returns the user of the currently retained identity, or empty.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return ""
	}
	return m.identity.UserID
}

// Connect establishes the connection for the given identity. Calling it
// again with the same identity while live is a no-op; a different identity
// tears the previous connection down first. Transport failures do not
// propagate: they are recorded in the status store and retried.
func (m *Manager) Connect(ctx context.Context, id Identity) error {
	m.mu.Lock()
	if wait := time.Until(m.disabledUntil); wait > 0 {
		m.mu.Unlock()
		m.logger.Warn("connect refused, circuit breaker engaged",
			zap.Duration("retry_in", wait.Round(time.Second)))
		return ErrCircuitOpen
	}
	if !m.disabledUntil.IsZero() {
		// Breaker deadline passed: start a fresh attempt budget.
		m.disabledUntil = time.Time{}
		m.attempts = 0
	}
	if m.conn != nil && m.identity != nil && *m.identity == id {
		m.mu.Unlock()
		return nil
	}
	// Always advance the generation so a dial still in flight from an
	// earlier Connect cannot install its connection after this one.
	m.closeConnLocked()
	m.stopRetryLocked()
	m.identity = &id
	m.paused = false
	gen := m.gen
	m.mu.Unlock()

	m.dial(ctx, id, gen)
	return nil
}

// Disconnect tears the connection down and clears the retained identity, so
// Resume is impossible until a fresh Connect supplies credentials again.
func (m *Manager) Disconnect(reason string) {
	m.mu.Lock()
	m.identity = nil
	m.paused = false
	m.attempts = 0
	m.disabledUntil = time.Time{}
	m.stopRetryLocked()
	m.closeConnLocked()
	m.mu.Unlock()

	m.store.Reset()
	m.logger.Info("disconnected", zap.String("reason", reason))
}

// Pause closes the transport but retains the identity for Resume. Called
// when the application is backgrounded.
func (m *Manager) Pause() {
	m.mu.Lock()
	if m.paused || m.identity == nil {
		m.mu.Unlock()
		return
	}
	m.paused = true
	m.stopRetryLocked()
	m.closeConnLocked()
	m.mu.Unlock()

	m.store.SetStatus(status.Paused)
	m.logger.Info("connection paused")
}

// Resume re-establishes the connection using the retained identity. It also
// recovers a connection that died silently while the host was offline.
func (m *Manager) Resume() error {
	m.mu.Lock()
	if m.identity == nil {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	if !m.paused && m.conn != nil {
		m.mu.Unlock()
		return nil
	}
	id := *m.identity
	m.paused = false
	m.mu.Unlock()

	return m.Connect(context.Background(), id)
}

// Reconnect is the operator's manual retry. It clears the breaker window
// and attempt budget first, so a user-initiated retry is never refused.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	m.disabledUntil = time.Time{}
	m.attempts = 0
	m.stopRetryLocked()
	m.mu.Unlock()
	return m.Resume()
}

// On registers a handler for a server event and returns its unsubscribe
// function. The caller must invoke it before its own lifetime ends.
func (m *Manager) On(event string, h Handler) func() {
	m.handlersMu.Lock()
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]Handler)
	}
	id := m.nextSub
	m.nextSub++
	m.handlers[event][id] = h
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		delete(m.handlers[event], id)
		m.handlersMu.Unlock()
	}
}

// Emit sends an event to the server, best effort. There is no outbound
// queue: while not connected the event is dropped and logged.
func (m *Manager) Emit(event string, payload any) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		m.logger.Debug("emit dropped, not connected", zap.String("event", event))
		return
	}
	if err := conn.WriteEnvelope(event, payload); err != nil {
		m.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}

// JoinChat scopes the channel to a conversation's events.
func (m *Manager) JoinChat(conversationID string) {
	m.Emit(EventJoinChat, chatScopePayload{ConversationID: conversationID})
}

// LeaveChat removes the conversation scope.
func (m *Manager) LeaveChat(conversationID string) {
	m.Emit(EventLeaveChat, chatScopePayload{ConversationID: conversationID})
}

// dial performs one connection attempt for the given generation. Failures
// increment the attempt counter and either schedule a retry or trip the
// breaker; they never propagate to the caller.
func (m *Manager) dial(ctx context.Context, id Identity, gen int) {
	m.store.SetStatus(status.Connecting)
	observability.ConnectAttempts().Inc()

	conn, name, err := m.transport.Dial(ctx, m.cfg.URL, id.Token)

	m.mu.Lock()
	if gen != m.gen || m.paused || m.identity == nil {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		m.attempts++
		n := m.attempts
		m.store.SetError(err.Error(), n)
		if n >= m.cfg.MaxAttempts {
			m.tripBreakerLocked(n)
			m.mu.Unlock()
			return
		}
		delay := m.backoff(n)
		m.retryTimer = time.AfterFunc(delay, m.retry)
		m.mu.Unlock()
		m.logger.Warn("connect failed",
			zap.Int("attempt", n), zap.Duration("retry_in", delay), zap.Error(err))
		return
	}

	m.conn = conn
	// The breaker counts consecutive failures only; a successful connect
	// starts the next streak from zero.
	m.attempts = 0
	socketID := uuid.NewString()
	m.store.SetConnected(socketID, name)
	if werr := conn.WriteEnvelope(EventIdentify, identifyPayload{UserID: id.UserID}); werr != nil {
		m.logger.Warn("identify failed", zap.Error(werr))
	}
	go m.readLoop(conn, gen)
	m.mu.Unlock()

	m.logger.Info("connected",
		zap.String("socket_id", socketID), zap.String("transport", name))
}

// retry is the timer callback for scheduled reconnect attempts.
func (m *Manager) retry() {
	m.mu.Lock()
	if m.paused || m.identity == nil || m.conn != nil || time.Now().Before(m.disabledUntil) {
		m.mu.Unlock()
		return
	}
	id := *m.identity
	gen := m.gen
	m.mu.Unlock()

	m.dial(context.Background(), id, gen)
}

func (m *Manager) readLoop(conn Conn, gen int) {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			m.handleReadError(gen, err)
			return
		}
		m.dispatch(env)
	}
}

func (m *Manager) dispatch(env Envelope) {
	observability.EventsReceived().WithLabelValues(env.Event).Inc()

	if env.Event == EventUpgrade {
		var p upgradePayload
		if json.Unmarshal(env.Data, &p) == nil && p.Transport != "" {
			m.store.SetTransport(p.Transport)
			m.logger.Info("transport upgraded", zap.String("transport", p.Transport))
		}
		return
	}

	m.handlersMu.RLock()
	handlers := make([]Handler, 0, len(m.handlers[env.Event]))
	for _, h := range m.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	m.handlersMu.RUnlock()

	// Synchronous fan-out on the read loop keeps server-send order; the
	// reconciler depends on it.
	for _, h := range handlers {
		h(env.Data)
	}

	// Raw pass-through for surfaces outside the core (feed UI).
	if m.bus != nil {
		m.bus.Emit("rt."+env.Event, env.Data)
	}
}

// handleReadError runs when the read loop observes a transport error. For a
// stale generation the teardown already happened locally; otherwise the
// disconnect was server-initiated and a re-attempt starts immediately.
func (m *Manager) handleReadError(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
	if m.paused || m.identity == nil {
		m.mu.Unlock()
		return
	}
	id := *m.identity
	next := m.gen
	m.mu.Unlock()

	m.store.SetStatus(status.Disconnected)
	m.logger.Warn("connection lost, reconnecting", zap.Error(err))
	observability.Reconnects().Inc()
	go m.dial(context.Background(), id, next)
}

func (m *Manager) tripBreakerLocked(attempts int) {
	m.disabledUntil = time.Now().Add(m.cfg.BreakerCooldown)
	m.stopRetryLocked()
	m.closeConnLocked()
	m.store.SetDisabledUntil(m.disabledUntil)
	observability.BreakerTrips().Inc()
	m.logger.Warn("circuit breaker engaged",
		zap.Int("attempts", attempts),
		zap.Duration("cooldown", m.cfg.BreakerCooldown))
}

// backoff grows linearly from BackoffStart to the BackoffCap ceiling.
func (m *Manager) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * m.cfg.BackoffStart
	if d > m.cfg.BackoffCap {
		return m.cfg.BackoffCap
	}
	return d
}

func (m *Manager) closeConnLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.gen++
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}
