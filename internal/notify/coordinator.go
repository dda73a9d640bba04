package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/chat"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/observability"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/realtime"
)

const (
	alertDuration     = 5 * time.Second
	attentionDuration = 10 * time.Second
)

// API is the backend surface the coordinator consumes.
type API interface {
	ListNotifications(ctx context.Context, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	RegisterPushSubscription(ctx context.Context, sub PushSubscription) error
}

// Channel is the slice of the realtime manager the coordinator uses.
type Channel interface {
	On(event string, h realtime.Handler) func()
}

// Coordinator turns pushed events into user-visible alerts and maintains the
// in-memory notification list, newest first. The list only grows within a
// session: entries come from the initial fetch and subsequent pushes.
type Coordinator struct {
	api       API
	rt        Channel
	alerter   Alerter
	player    Player
	registrar Registrar
	bus       *bus.Bus
	logger    *zap.Logger
	self      func() string
	sound     bool
	chime     []byte

	mu   sync.Mutex
	list []Notification
	offs []func()
}

// NewCoordinator creates the coordinator. self resolves the current user id
// for self-echo suppression. alerter, player and registrar may be nil when
// the host has no corresponding surface.
func NewCoordinator(api API, rt Channel, alerter Alerter, player Player, registrar Registrar,
	b *bus.Bus, self func() string, sound bool, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		api:       api,
		rt:        rt,
		alerter:   alerter,
		player:    player,
		registrar: registrar,
		bus:       b,
		logger:    logger,
		self:      self,
		sound:     sound,
		chime:     Chime(),
	}
}

// Start subscribes to the pushed event kinds.
func (c *Coordinator) Start() {
	c.offs = append(c.offs,
		c.rt.On(realtime.EventNotificationNew, c.onNotification),
		c.rt.On(realtime.EventChatNewMessage, c.onChatMessage),
		c.rt.On(realtime.EventChatAttention, c.onAttention),
	)
}

// Stop disposes the realtime subscriptions.
func (c *Coordinator) Stop() {
	for _, off := range c.offs {
		off()
	}
	c.offs = nil
}

// Refresh loads the initial notification page (newest first).
func (c *Coordinator) Refresh(ctx context.Context) error {
	list, err := c.api.ListNotifications(ctx, 50)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	return nil
}

// Notifications returns a snapshot of the list, newest first.
func (c *Coordinator) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.list))
	copy(out, c.list)
	return out
}

// UnreadCount returns the number of unread notifications.
func (c *Coordinator) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, notif := range c.list {
		if !notif.Read {
			n++
		}
	}
	return n
}

// MarkRead optimistically flips the local read flag and fires a best-effort
// server PATCH. Read state is not safety-critical: a failed PATCH keeps the
// local state and re-syncs on the next full fetch.
func (c *Coordinator) MarkRead(id string) {
	c.mu.Lock()
	for i := range c.list {
		if c.list[i].ID == id {
			c.list[i].Read = true
			break
		}
	}
	c.mu.Unlock()
	c.bus.Emit(bus.KindNotificationRead, id)

	go func() {
		if err := c.api.MarkNotificationRead(context.Background(), id); err != nil {
			c.logger.Warn("mark notification read failed", zap.String("id", id), zap.Error(err))
		}
	}()
}

// MarkAllRead is MarkRead batched over the whole list.
func (c *Coordinator) MarkAllRead() {
	c.mu.Lock()
	for i := range c.list {
		c.list[i].Read = true
	}
	c.mu.Unlock()
	c.bus.Emit(bus.KindNotificationRead, "*")

	go func() {
		if err := c.api.MarkAllNotificationsRead(context.Background()); err != nil {
			c.logger.Warn("mark all notifications read failed", zap.Error(err))
		}
	}()
}

// EnablePush obtains this device's push registration and registers it with
// the server. Failures are logged, never fatal: the feature is silently
// unavailable.
func (c *Coordinator) EnablePush(ctx context.Context) {
	if c.registrar == nil {
		c.logger.Info("push unavailable, no registrar configured")
		return
	}
	sub, err := c.registrar.Subscription(ctx)
	if err != nil {
		c.logger.Warn("push registration unavailable", zap.Error(err))
		return
	}
	if err := c.api.RegisterPushSubscription(ctx, sub); err != nil {
		c.logger.Warn("push subscription rejected by server", zap.Error(err))
	}
}

func (c *Coordinator) onNotification(data json.RawMessage) {
	var notif Notification
	if err := json.Unmarshal(data, &notif); err != nil {
		c.logger.Warn("invalid notification:new payload", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.list = append([]Notification{notif}, c.list...)
	c.mu.Unlock()

	observability.Notifications().WithLabelValues(notif.Type).Inc()
	c.bus.Emit(bus.KindNotificationNew, notif)

	c.playChime()
	c.show(Alert{
		Kind:        AlertNotification,
		Title:       notif.Title,
		Body:        notif.Message,
		Duration:    alertDuration,
		Destination: destinationFor(notif),
	})
}

func (c *Coordinator) onChatMessage(data json.RawMessage) {
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("invalid chat:new_message payload", zap.Error(err))
		return
	}
	// Our own message echoed back: the reconciler's placeholder swap is the
	// only reaction; alerting here would self-notify on every send.
	if msg.SenderID == c.self() {
		return
	}

	c.playChime()
	c.show(Alert{
		Kind:        AlertChatMessage,
		Title:       msg.Sender.Name,
		Body:        msg.Content,
		Duration:    alertDuration,
		Destination: "/chats/" + msg.ConversationID,
	})
}

func (c *Coordinator) onAttention(data json.RawMessage) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Warn("invalid chat:attention payload", zap.Error(err))
		return
	}

	// Urgent broadcast: alert regardless of sender.
	c.playChime()
	c.show(Alert{
		Kind:        AlertAttention,
		Title:       "Attention requested",
		Body:        payload.Message,
		Duration:    attentionDuration,
		Destination: "/chats/" + payload.ConversationID,
	})
}

func (c *Coordinator) playChime() {
	if !c.sound || c.player == nil {
		return
	}
	go func() {
		if err := c.player.Play(c.chime); err != nil {
			c.logger.Debug("chime playback failed", zap.Error(err))
		}
	}()
}

func (c *Coordinator) show(a Alert) {
	if c.alerter == nil {
		return
	}
	c.alerter.Show(a)
}

// destinationFor maps a notification to its click-through route.
func destinationFor(n Notification) string {
	id, _ := n.Data["id"].(string)
	switch n.Type {
	case "chat":
		if conv, ok := n.Data["conversationId"].(string); ok {
			return "/chats/" + conv
		}
	case "quote":
		if id != "" {
			return "/quotes/" + id
		}
	case "appointment":
		if id != "" {
			return "/appointments/" + id
		}
	}
	return ""
}
