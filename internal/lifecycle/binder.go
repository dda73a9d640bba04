package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/realtime"
)

// DefaultDebounce collapses rapid credential churn into one connect.
const DefaultDebounce = 500 * time.Millisecond

// Connector is the slice of the realtime manager the binder drives.
type Connector interface {
	Connect(ctx context.Context, id realtime.Identity) error
	Disconnect(reason string)
	Pause()
	Resume() error
}

// Binder translates ambient application events — credential changes,
// foreground/background transitions, connectivity recovery — into manager
// calls. It owns nothing but a debounce timer.
type Binder struct {
	mgr      Connector
	bus      *bus.Bus
	logger   *zap.Logger
	debounce time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	closed bool

	cancel context.CancelFunc
}

// NewBinder creates a binder. A zero debounce uses DefaultDebounce.
func NewBinder(mgr Connector, b *bus.Bus, debounce time.Duration, logger *zap.Logger) *Binder {
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	return &Binder{mgr: mgr, bus: b, logger: logger, debounce: debounce}
}

// Start subscribes to app.* lifecycle events on the bus.
func (b *Binder) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	ch, unsub := b.bus.Subscribe("app.", 16)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				b.handle(evt.Kind)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close cancels the subscription and any pending debounce timer so no
// connect fires after teardown.
func (b *Binder) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()
}

// SetCredentials reacts to the auth subsystem: both values present schedules
// a debounced connect; either missing disconnects immediately.
func (b *Binder) SetCredentials(userID, token string) {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.closed {
		b.mu.Unlock()
		return
	}

	if userID == "" || token == "" {
		b.mu.Unlock()
		b.mgr.Disconnect("auth_lost")
		return
	}

	id := realtime.Identity{UserID: userID, Token: token}
	b.timer = time.AfterFunc(b.debounce, func() {
		if err := b.mgr.Connect(context.Background(), id); err != nil {
			b.logger.Warn("connect after auth change failed", zap.Error(err))
		}
	})
	b.mu.Unlock()
}

func (b *Binder) handle(kind string) {
	switch kind {
	case bus.KindAppBackground:
		b.mgr.Pause()
	case bus.KindAppForeground, bus.KindAppOnline:
		if err := b.mgr.Resume(); err != nil {
			b.logger.Debug("resume skipped", zap.Error(err))
		}
	}
}
