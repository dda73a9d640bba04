package store

// Conversation is a snapshotted conversation row. Timestamps are unix millis.
type Conversation struct {
	ID            string
	Type          string
	Name          string
	UnreadCount   int
	LastMessageAt int64
}

// Message is a snapshotted message row.
type Message struct {
	ID             int64
	ConversationID string
	MsgID          string
	ClientID       string
	SenderID       string
	SenderName     string
	Body           string
	CreatedAt      int64
}

// Notification is a snapshotted notification row.
type Notification struct {
	ID        string
	Title     string
	Body      string
	Type      string
	Read      bool
	CreatedAt int64
}
