package store

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation record.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (id, conv_type, name, unread_count, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conv_type = excluded.conv_type,
			name = excluded.name,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Name, c.UnreadCount, c.LastMessageAt, now)
	return err
}

// ListConversations returns conversations sorted by last message timestamp
// descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, conv_type, name, unread_count, last_message_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.UnreadCount, &c.LastMessageAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil when absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, conv_type, name, unread_count, last_message_at
		FROM conversations
		WHERE id = ?`, id).
		Scan(&c.ID, &c.Type, &c.Name, &c.UnreadCount, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ZeroUnread clears the unread counter for a conversation.
func (db *DB) ZeroUnread(id string) error {
	_, err := db.Exec(`
		UPDATE conversations SET unread_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

// DeleteConversation removes a conversation and its messages.
func (db *DB) DeleteConversation(id string) error {
	if _, err := db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	return err
}
