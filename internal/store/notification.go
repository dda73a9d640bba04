package store

import "time"

// UpsertNotification inserts or updates a notification record.
func (db *DB) UpsertNotification(n *Notification) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO notifications (id, title, body, notif_type, read, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			notif_type = excluded.notif_type,
			read = excluded.read,
			updated_at = excluded.updated_at`,
		n.ID, n.Title, n.Body, n.Type, n.Read, n.CreatedAt, now)
	return err
}

// ListNotifications returns notifications newest first.
func (db *DB) ListNotifications(limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, title, body, notif_type, read, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var list []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.Type, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkNotificationRead flips one notification to read.
func (db *DB) MarkNotificationRead(id string) error {
	_, err := db.Exec(`
		UPDATE notifications SET read = 1, updated_at = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

// MarkAllNotificationsRead flips every notification to read.
func (db *DB) MarkAllNotificationsRead() error {
	_, err := db.Exec(`
		UPDATE notifications SET read = 1, updated_at = ? WHERE read = 0`,
		time.Now().UnixMilli())
	return err
}
