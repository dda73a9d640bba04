package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/bus"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/observability"
	"github.com/DemianF-dev/7pet-mvp-sub001/internal/realtime"
)

// API is the backend surface the chat service consumes.
type API interface {
	ListConversations(ctx context.Context) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	SendMessage(ctx context.Context, conversationID, clientID, content string) (Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
}

// Channel is the slice of the realtime manager the service uses.
type Channel interface {
	On(event string, h realtime.Handler) func()
	JoinChat(conversationID string)
	LeaveChat(conversationID string)
}

// Service coordinates the conversation cache with the backend and the
// realtime channel.
type Service struct {
	cache  *Cache
	api    API
	rt     Channel
	bus    *bus.Bus
	logger *zap.Logger
	offs   []func()
}

// NewService creates the chat service.
func NewService(cache *Cache, api API, rt Channel, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{cache: cache, api: api, rt: rt, bus: b, logger: logger}
}

// Start subscribes to realtime chat events.
func (s *Service) Start() {
	s.offs = append(s.offs, s.rt.On(realtime.EventChatNewMessage, s.onRealtimeMessage))
}

// Stop disposes the realtime subscriptions.
func (s *Service) Stop() {
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
}

// Cache exposes the underlying cache for read-only consumers.
func (s *Service) Cache() *Cache { return s.cache }

// Refresh reloads the conversation list from the backend.
func (s *Service) Refresh(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	s.cache.Load(convs)
	return nil
}

// SendMessage inserts the optimistic placeholder, POSTs the message, and
// either confirms or rolls back. The error propagates to the caller so the
// UI surfaces it; the typed content is not restored.
func (s *Service) SendMessage(ctx context.Context, conversationID, content string) (Message, error) {
	placeholder := s.cache.AppendOptimistic(conversationID, content)
	s.bus.Emit(bus.KindMessageUpserted, placeholder)

	confirmed, err := s.api.SendMessage(ctx, conversationID, placeholder.ClientID, content)
	if err != nil {
		s.cache.RollbackSend(conversationID, placeholder.ClientID)
		s.bus.Emit(bus.KindMessageRolledBack, placeholder)
		observability.SendRollbacks().Inc()
		return Message{}, fmt.Errorf("send message: %w", err)
	}

	s.cache.ConfirmSend(conversationID, confirmed)
	s.bus.Emit(bus.KindMessageUpserted, confirmed)
	return confirmed, nil
}

// OpenConversation scopes the channel to the conversation, loads its message
// page if the window is empty, and marks it read (optimistically local,
// best effort remote).
func (s *Service) OpenConversation(ctx context.Context, conversationID string) error {
	s.cache.Open(conversationID)
	s.rt.JoinChat(conversationID)
	go s.markRead(conversationID)

	if len(s.cache.Messages(conversationID)) > 0 {
		return nil
	}
	page, err := s.api.ListMessages(ctx, conversationID, 50)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	s.cache.SetMessages(conversationID, page)
	return nil
}

// CloseConversation removes the channel scope.
func (s *Service) CloseConversation(conversationID string) {
	s.cache.Close(conversationID)
	s.rt.LeaveChat(conversationID)
}

func (s *Service) onRealtimeMessage(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("invalid chat:new_message payload", zap.Error(err))
		return
	}

	applied, open := s.cache.ApplyRealtime(msg)
	if !applied {
		return
	}
	s.bus.Emit(bus.KindMessageUpserted, msg)
	if open {
		go s.markRead(msg.ConversationID)
	}
}

// markRead is best effort: read-state sync failures are logged and the local
// optimistic state kept; the next full fetch re-syncs.
func (s *Service) markRead(conversationID string) {
	s.cache.ZeroUnread(conversationID)
	if err := s.api.MarkConversationRead(context.Background(), conversationID); err != nil {
		s.logger.Warn("mark conversation read failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	s.bus.Emit(bus.KindConversationRead, conversationID)
}
