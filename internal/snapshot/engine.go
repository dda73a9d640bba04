// Package snapshot persists the in-memory caches into SQLite so a restarted
// daemon comes up with conversations and notifications before the first
// backend round-trip.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/chat"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/notify"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/store"
)

const sweepInterval = time.Minute

// Engine handles idempotent ingestion of chat and notification events into
// the store. It subscribes to the "chat." and "notify." namespaces on the
// bus and owns the periodic flag-expiry sweep.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new snapshot engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to cache events on the bus and starts the flag sweep.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	chatCh, unsubChat := e.bus.Subscribe("chat.", 256)
	notifyCh, unsubNotify := e.bus.Subscribe("notify.", 256)

	go func() {
		defer unsubChat()
		defer unsubNotify()
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case evt := <-chatCh:
				e.handleChatEvent(evt)
			case evt := <-notifyCh:
				e.handleNotifyEvent(evt)
			case now := <-ticker.C:
				e.sweep(now)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleChatEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpserted:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		// Optimistic placeholders never reach disk; the confirmed message
		// arrives as its own event once the server acks.
		if msg.Pending() {
			return
		}
		if err := e.IngestMessage(msg); err != nil {
			e.logger.Error("failed to ingest message", zap.Error(err), zap.String("msg_id", msg.ID))
		}
	case bus.KindConversationRead:
		id, ok := evt.Payload.(string)
		if !ok {
			return
		}
		if err := e.db.ZeroUnread(id); err != nil {
			e.logger.Error("failed to zero unread", zap.Error(err), zap.String("conversation_id", id))
		}
	}
}

func (e *Engine) handleNotifyEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindNotificationNew:
		n, ok := evt.Payload.(notify.Notification)
		if !ok {
			return
		}
		if err := e.IngestNotification(n); err != nil {
			e.logger.Error("failed to ingest notification", zap.Error(err), zap.String("id", n.ID))
		}
	case bus.KindNotificationRead:
		id, ok := evt.Payload.(string)
		if !ok {
			return
		}
		var err error
		if id == "*" {
			err = e.db.MarkAllNotificationsRead()
		} else {
			err = e.db.MarkNotificationRead(id)
		}
		if err != nil {
			e.logger.Error("failed to mark notification read", zap.Error(err), zap.String("id", id))
		}
	}
}

// IngestMessage processes a single confirmed message into the store
// (idempotent).
func (e *Engine) IngestMessage(msg chat.Message) error {
	if err := e.db.UpsertMessage(&store.Message{
		ConversationID: msg.ConversationID,
		MsgID:          msg.ID,
		ClientID:       msg.ClientID,
		SenderID:       msg.SenderID,
		SenderName:     msg.Sender.Name,
		Body:           msg.Content,
		CreatedAt:      msg.CreatedAt.UnixMilli(),
	}); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}

	// Bump the conversation row so the list order survives a restart. The
	// unread counter is owned by the cache, so only the timestamp moves.
	conv, err := e.db.GetConversation(msg.ConversationID)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	row := store.Conversation{ID: msg.ConversationID}
	if conv != nil {
		row = *conv
	}
	if ts := msg.CreatedAt.UnixMilli(); ts > row.LastMessageAt {
		row.LastMessageAt = ts
	}
	if err := e.db.UpsertConversation(&row); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

// IngestNotification processes a single notification into the store
// (idempotent).
func (e *Engine) IngestNotification(n notify.Notification) error {
	if err := e.db.UpsertNotification(&store.Notification{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Message,
		Type:      n.Type,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UnixMilli(),
	}); err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

// SeedConversations bulk-loads a fetched conversation list in one
// transaction, typically right after a reconciler refresh.
func (e *Engine) SeedConversations(convs []chat.Conversation) error {
	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, conv_type, name, unread_count, last_message_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				conv_type = excluded.conv_type,
				name = excluded.name,
				unread_count = excluded.unread_count,
				last_message_at = excluded.last_message_at,
				updated_at = excluded.updated_at`,
			c.ID, c.Type, c.Name, c.UnreadCount, c.LastMessageAt.UnixMilli(), now); err != nil {
			return fmt.Errorf("upsert conversation in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (e *Engine) sweep(now time.Time) {
	removed, err := e.db.ExpireStaleFlags(now)
	if err != nil {
		e.logger.Error("flag sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		e.logger.Debug("expired stale flags", zap.Int64("removed", removed))
	}
}
