package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/status"
)

type sentEnvelope struct {
	Event string
	Data  any
}

// fakeConn is a scriptable connection. Tests push server events into in and
// inspect client sends via Sent.
type fakeConn struct {
	in chan Envelope

	mu     sync.Mutex
	sent   []sentEnvelope
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan Envelope, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadEnvelope() (Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.done:
		return Envelope{}, io.EOF
	}
}

func (c *fakeConn) WriteEnvelope(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.sent = append(c.sent, sentEnvelope{Event: event, Data: data})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// serverDrop simulates a server-initiated disconnect.
func (c *fakeConn) serverDrop() { _ = c.Close() }

func (c *fakeConn) Sent() []sentEnvelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEnvelope, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	tokens   []string
	failAll  bool
	failNext int           // fail this many dials, then succeed
	gate     chan struct{} // when set, dials block until the gate closes
	conns    []*fakeConn
}

func (t *fakeTransport) Dial(_ context.Context, _, token string) (Conn, string, error) {
	t.mu.Lock()
	t.dials++
	t.tokens = append(t.tokens, token)
	fail := t.failAll
	if t.failNext > 0 {
		t.failNext--
		fail = true
	}
	gate := t.gate
	t.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, "", errors.New("dial refused")
	}

	t.mu.Lock()
	conn := newFakeConn()
	t.conns = append(t.conns, conn)
	t.mu.Unlock()
	return conn, "polling", nil
}

func (t *fakeTransport) setFailAll(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failAll = fail
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) openConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.conns {
		c.mu.Lock()
		if !c.closed {
			n++
		}
		c.mu.Unlock()
	}
	return n
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i >= len(t.conns) {
		return nil
	}
	return t.conns[i]
}

func newTestManager(t *fakeTransport) (*Manager, *status.Store) {
	store := status.NewStore(nil)
	cfg := Config{
		URL:             "wss://realtime.test/ws",
		BackoffStart:    time.Millisecond,
		BackoffCap:      2 * time.Millisecond,
		BreakerCooldown: 120 * time.Second,
	}
	return NewManager(cfg, t, store, nil, zap.NewNop()), store
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestConnectSendsIdentify(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newTestManager(tr)

	if err := m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	state := store.Snapshot()
	if state.Status != status.Connected {
		t.Fatalf("status = %s, want connected", state.Status)
	}
	if state.Transport != "polling" || state.SocketID == "" {
		t.Errorf("transport/socket = %q/%q", state.Transport, state.SocketID)
	}

	sent := tr.conn(0).Sent()
	if len(sent) == 0 || sent[0].Event != EventIdentify {
		t.Fatalf("first send = %+v, want identify", sent)
	}
	payload, _ := sent[0].Data.(identifyPayload)
	if payload.UserID != "user-1" {
		t.Errorf("identify userId = %q, want user-1", payload.UserID)
	}
	if got := tr.tokens[0]; got != "tok" {
		t.Errorf("dial token = %q, want tok", got)
	}
}

func TestConnectIdempotentForSameIdentity(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)
	id := Identity{UserID: "user-1", Token: "tok"}

	_ = m.Connect(context.Background(), id)
	_ = m.Connect(context.Background(), id)

	if got := tr.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (second connect must be a no-op)", got)
	}
}

func TestConnectWithNewIdentityTearsDownFirst(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)

	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "a"})
	_ = m.Connect(context.Background(), Identity{UserID: "user-2", Token: "b"})

	first := tr.conn(0)
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("previous connection not torn down on identity change")
	}
	if got := tr.dialCount(); got != 2 {
		t.Fatalf("dials = %d, want 2", got)
	}
	sent := tr.conn(1).Sent()
	if payload, _ := sent[0].Data.(identifyPayload); payload.UserID != "user-2" {
		t.Errorf("identify userId = %q, want user-2", payload.UserID)
	}
}

func TestConnectDuringInFlightDialKeepsOneConnection(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{gate: gate}
	m, store := newTestManager(tr)

	done := make(chan struct{}, 2)
	go func() {
		_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "a"})
		done <- struct{}{}
	}()
	waitFor(t, "first dial in flight", func() bool { return tr.dialCount() == 1 })

	go func() {
		_ = m.Connect(context.Background(), Identity{UserID: "user-2", Token: "b"})
		done <- struct{}{}
	}()
	waitFor(t, "second dial in flight", func() bool { return tr.dialCount() == 2 })

	close(gate)
	<-done
	<-done

	waitFor(t, "connected", func() bool {
		return store.Snapshot().Status == status.Connected
	})
	// The first dial's result is stale and must be closed, never installed.
	waitFor(t, "stale connection closed", func() bool { return tr.openConns() == 1 })

	var live *fakeConn
	for i := 0; ; i++ {
		conn := tr.conn(i)
		if conn == nil {
			break
		}
		conn.mu.Lock()
		open := !conn.closed
		conn.mu.Unlock()
		if open {
			live = conn
		}
	}
	if live == nil {
		t.Fatal("no live connection")
	}
	sent := live.Sent()
	if len(sent) == 0 {
		t.Fatal("live connection never identified")
	}
	if payload, _ := sent[0].Data.(identifyPayload); payload.UserID != "user-2" {
		t.Errorf("live connection identity = %q, want user-2", payload.UserID)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newTestManager(tr)
	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})

	m.Pause()

	if got := store.Snapshot().Status; got != status.Paused {
		t.Fatalf("status after Pause = %s, want paused", got)
	}
	first := tr.conn(0)
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("transport not closed on pause")
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitFor(t, "reconnect after resume", func() bool {
		return store.Snapshot().Status == status.Connected
	})
	if got := tr.dialCount(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
	// Resume reuses the retained identity; the caller supplies nothing.
	if tr.tokens[1] != "tok" {
		t.Errorf("resume token = %q, want tok", tr.tokens[1])
	}
	sent := tr.conn(1).Sent()
	if payload, _ := sent[0].Data.(identifyPayload); payload.UserID != "user-1" {
		t.Errorf("identify after resume userId = %q, want user-1", payload.UserID)
	}
}

func TestCircuitBreakerAfterSixAttempts(t *testing.T) {
	tr := &fakeTransport{failAll: true}
	m, store := newTestManager(tr)

	if err := m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, "circuit breaker", func() bool {
		return !store.Snapshot().DisabledUntil.IsZero()
	})

	state := store.Snapshot()
	if state.Status != status.Error {
		t.Errorf("status = %s, want error", state.Status)
	}
	if state.Attempts != 6 {
		t.Errorf("attempts = %d, want 6", state.Attempts)
	}
	wait := time.Until(state.DisabledUntil)
	if wait < 110*time.Second || wait > 120*time.Second {
		t.Errorf("breaker window = %v, want ~120s", wait)
	}

	dials := tr.dialCount()
	if dials != 6 {
		t.Errorf("dials = %d, want 6", dials)
	}

	// A retry before the deadline must be refused without dialing.
	err := m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Connect() during breaker = %v, want ErrCircuitOpen", err)
	}
	if got := tr.dialCount(); got != dials {
		t.Errorf("dials after refused connect = %d, want %d", got, dials)
	}
}

func TestSuccessfulConnectResetsAttemptStreak(t *testing.T) {
	tr := &fakeTransport{failNext: 3}
	m, store := newTestManager(tr)

	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})
	waitFor(t, "connect after three failures", func() bool {
		return store.Snapshot().Status == status.Connected
	})
	if got := tr.dialCount(); got != 4 {
		t.Fatalf("dials = %d, want 4 (three failures, then success)", got)
	}

	// A server drop after a successful connect starts a fresh failure
	// streak: the breaker must see the full budget, not the leftover from
	// before the connect.
	tr.setFailAll(true)
	tr.conn(0).serverDrop()

	waitFor(t, "circuit breaker", func() bool {
		return !store.Snapshot().DisabledUntil.IsZero()
	})
	if got := tr.dialCount(); got != 10 {
		t.Errorf("dials = %d, want 10 (six consecutive failures before trip)", got)
	}
	if got := store.Snapshot().Attempts; got != 6 {
		t.Errorf("attempts at trip = %d, want 6", got)
	}
}

func TestReconnectClearsBreaker(t *testing.T) {
	tr := &fakeTransport{failAll: true}
	m, store := newTestManager(tr)

	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})
	waitFor(t, "circuit breaker", func() bool {
		return !store.Snapshot().DisabledUntil.IsZero()
	})
	dials := tr.dialCount()

	// A manual retry dials immediately even though the breaker window is
	// still open.
	tr.setFailAll(false)
	if err := m.Reconnect(); err != nil {
		t.Fatalf("Reconnect() error = %v", err)
	}
	waitFor(t, "dial after manual reconnect", func() bool {
		return tr.dialCount() == dials+1
	})
	waitFor(t, "connected", func() bool {
		return store.Snapshot().Status == status.Connected
	})
	if !store.Snapshot().DisabledUntil.IsZero() {
		t.Error("breaker window not cleared by manual reconnect")
	}
}

func TestServerDisconnectTriggersReconnect(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newTestManager(tr)
	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})

	tr.conn(0).serverDrop()

	waitFor(t, "automatic reconnect", func() bool {
		return tr.dialCount() == 2 && store.Snapshot().Status == status.Connected
	})
}

func TestDisconnectClearsIdentity(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newTestManager(tr)
	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})

	m.Disconnect("auth_lost")

	if got := store.Snapshot().Status; got != status.Disconnected {
		t.Errorf("status = %s, want disconnected", got)
	}
	if err := m.Resume(); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("Resume() after disconnect = %v, want ErrNoIdentity", err)
	}
	if got := tr.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no resume without identity)", got)
	}
}

func TestEmitDroppedWhenNotConnected(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)

	// Must not panic, must not dial.
	m.Emit("feed:react", map[string]string{"postId": "p1"})

	if got := tr.dialCount(); got != 0 {
		t.Errorf("dials = %d, want 0", got)
	}
}

func TestHandlerDispatchAndOff(t *testing.T) {
	tr := &fakeTransport{}
	m, _ := newTestManager(tr)
	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})

	var mu sync.Mutex
	var got []string
	off := m.On(EventChatNewMessage, func(data json.RawMessage) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})

	tr.conn(0).in <- Envelope{Event: EventChatNewMessage, Data: json.RawMessage(`{"id":"m1"}`)}
	waitFor(t, "handler dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	off()
	tr.conn(0).in <- Envelope{Event: EventChatNewMessage, Data: json.RawMessage(`{"id":"m2"}`)}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Errorf("handler calls = %d, want 1 (unsubscribed)", len(got))
	}
}

func TestUpgradeEventUpdatesTransport(t *testing.T) {
	tr := &fakeTransport{}
	m, store := newTestManager(tr)
	_ = m.Connect(context.Background(), Identity{UserID: "user-1", Token: "tok"})

	tr.conn(0).in <- Envelope{Event: EventUpgrade, Data: json.RawMessage(`{"transport":"websocket"}`)}

	waitFor(t, "transport upgrade", func() bool {
		return store.Snapshot().Transport == "websocket"
	})
	if got := store.Snapshot().Status; got != status.Connected {
		t.Errorf("status = %s, want connected (upgrade must not change status)", got)
	}
}
