package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Cache reconciles each conversation's message list across three write
// sources: local optimistic sends, server confirmations of those sends, and
// realtime pushes (including the echo of our own messages). The invariant is
// one entry per logical message, in arrival order.
type Cache struct {
	self func() string // current user id

	mu    sync.Mutex
	convs map[string]*Conversation
	open  map[string]bool
}

// NewCache creates an empty cache. self resolves the current user id at
// reconcile time, since credentials arrive after construction.
func NewCache(self func() string) *Cache {
	return &Cache{
		self:  self,
		convs: make(map[string]*Conversation),
		open:  make(map[string]bool),
	}
}

// Load replaces the conversation list from a server fetch, preserving the
// message windows of conversations already cached.
func (c *Cache) Load(convs []Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make(map[string]*Conversation, len(convs))
	for i := range convs {
		conv := convs[i]
		if prev, ok := c.convs[conv.ID]; ok && len(conv.Messages) == 0 {
			conv.Messages = prev.Messages
		}
		if c.open[conv.ID] {
			conv.UnreadCount = 0
		}
		fresh[conv.ID] = &conv
	}
	c.convs = fresh
}

// Upsert adds or replaces a single conversation without touching the rest
// of the list.
func (c *Cache) Upsert(conv Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.convs[conv.ID]; ok && len(conv.Messages) == 0 {
		conv.Messages = prev.Messages
	}
	if c.open[conv.ID] {
		conv.UnreadCount = 0
	}
	c.convs[conv.ID] = &conv
}

// Remove drops a conversation from the cache.
func (c *Cache) Remove(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.convs, conversationID)
	delete(c.open, conversationID)
}

// SetMessages installs a fetched message page. Pages arrive most-recent-first
// from the backend and are stored chronologically.
func (c *Cache) SetMessages(conversationID string, page []Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.conversationLocked(conversationID)
	msgs := make([]Message, len(page))
	for i, m := range page {
		msgs[len(page)-1-i] = m
	}
	conv.Messages = msgs
}

// Conversations returns a snapshot sorted by last activity, newest first.
func (c *Cache) Conversations() []Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		out = append(out, *conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Messages returns a copy of a conversation's cached window.
func (c *Cache) Messages(conversationID string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.convs[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// Open marks a conversation as on-screen and optimistically zeroes its
// unread badge. The server mark-read call is the caller's job.
func (c *Cache) Open(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[conversationID] = true
	if conv, ok := c.convs[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// Close marks a conversation as off-screen.
func (c *Cache) Close(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, conversationID)
}

// IsOpen reports whether the conversation is currently on-screen.
func (c *Cache) IsOpen(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[conversationID]
}

// ZeroUnread optimistically clears the unread badge.
func (c *Cache) ZeroUnread(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.convs[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// AppendOptimistic inserts the placeholder for an outbound send. It runs
// synchronously before the POST so the UI reflects the send instantly.
func (c *Cache) AppendOptimistic(conversationID, content string) Message {
	clientID := uuid.NewString()
	msg := Message{
		ID:             TempIDPrefix + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		Content:        content,
		SenderID:       c.self(),
		CreatedAt:      time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	conv := c.conversationLocked(conversationID)
	conv.Messages = append(conv.Messages, msg)
	conv.LastMessageAt = msg.CreatedAt
	return msg
}

// ConfirmSend swaps the placeholder for the server-confirmed message,
// preserving its list position. If a realtime echo already performed the
// swap, the confirmation is a duplicate and is dropped.
func (c *Cache) ConfirmSend(conversationID string, confirmed Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.conversationLocked(conversationID)
	if indexByID(conv.Messages, confirmed.ID) >= 0 {
		return
	}
	if i := indexByClientID(conv.Messages, confirmed.ClientID); i >= 0 {
		conv.Messages[i] = confirmed
		return
	}
	conv.Messages = append(conv.Messages, confirmed)
}

// RollbackSend removes the placeholder after a rejected POST, restoring the
// pre-send list. Reports whether a placeholder was found.
func (c *Cache) RollbackSend(conversationID, clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.convs[conversationID]
	if !ok {
		return false
	}
	i := indexByClientID(conv.Messages, clientID)
	if i < 0 {
		return false
	}
	conv.Messages = append(conv.Messages[:i], conv.Messages[i+1:]...)
	return true
}

// ApplyRealtime merges a pushed message. Returns whether the cache changed
// and whether the conversation is currently open.
func (c *Cache) ApplyRealtime(msg Message) (applied, open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.conversationLocked(msg.ConversationID)
	open = c.open[msg.ConversationID]

	// 1. Duplicate suppression by durable id.
	if indexByID(conv.Messages, msg.ID) >= 0 {
		return false, open
	}

	touch := func() {
		if msg.CreatedAt.After(conv.LastMessageAt) {
			conv.LastMessageAt = msg.CreatedAt
		}
	}

	// 2. Echo of our own send: swap the placeholder in place. Exact match
	// by client id; content match only for legacy payloads without the echo.
	if msg.SenderID == c.self() {
		i := indexByClientID(conv.Messages, msg.ClientID)
		if i < 0 {
			i = indexPendingByContent(conv.Messages, msg.Content)
		}
		if i >= 0 {
			conv.Messages[i] = msg
		} else {
			conv.Messages = append(conv.Messages, msg)
		}
		touch()
		return true, open
	}

	// 3. Peer message: append in arrival order.
	conv.Messages = append(conv.Messages, msg)
	touch()
	if open {
		conv.UnreadCount = 0
	} else {
		conv.UnreadCount++
	}
	return true, open
}

// conversationLocked returns the conversation, creating a stub when a push
// arrives for one the list fetch has not seen yet.
func (c *Cache) conversationLocked(id string) *Conversation {
	conv, ok := c.convs[id]
	if !ok {
		conv = &Conversation{ID: id}
		c.convs[id] = conv
	}
	return conv
}

func indexByID(msgs []Message, id string) int {
	if id == "" {
		return -1
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByClientID(msgs []Message, clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range msgs {
		if msgs[i].Pending() && msgs[i].ClientID == clientID {
			return i
		}
	}
	return -1
}

func indexPendingByContent(msgs []Message, content string) int {
	for i := range msgs {
		if msgs[i].Pending() && msgs[i].Content == content {
			return i
		}
	}
	return -1
}
