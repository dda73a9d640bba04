package chat

import (
	"strings"
	"time"
)

// TempIDPrefix marks optimistic placeholders that have no durable server id yet.
const TempIDPrefix = "temp-"

// Sender is the display identity attached to a message.
type Sender struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Message is one chat message. ClientID is the client-generated idempotency
// key: it is sent with the POST and echoed back by the server in both the
// confirmation and the realtime broadcast, so optimistic placeholders are
// matched exactly instead of by content.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	SenderID       string    `json:"senderId"`
	Sender         Sender    `json:"sender"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Pending reports whether the message is an optimistic placeholder.
func (m Message) Pending() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Participant is a conversation member.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Conversation holds one conversation and its cached message window,
// oldest first.
type Conversation struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Name          string        `json:"name"`
	LastMessageAt time.Time     `json:"lastMessageAt"`
	Participants  []Participant `json:"participants"`
	Messages      []Message     `json:"messages"`
	UnreadCount   int           `json:"unreadCount"`
}
