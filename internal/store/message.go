package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// conversation_id + msg_id, so a realtime broadcast and a later page fetch
// of the same message collapse to one row).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, client_id, sender_id, sender_name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			client_id = excluded.client_id,
			sender_name = excluded.sender_name,
			body = excluded.body`,
		m.ConversationID, m.MsgID, m.ClientID, m.SenderID, m.SenderName, m.Body, m.CreatedAt)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by created_at, most recent first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, client_id, sender_id, sender_name, body, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.ClientID, &m.SenderID, &m.SenderName, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
