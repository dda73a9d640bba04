package store

import (
	"database/sql"
	"time"
)

// SetFlag stores a key/value flag. ttl <= 0 means the flag never expires.
func (db *DB) SetFlag(key, value string, ttl time.Duration) error {
	now := time.Now()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = now.Add(ttl).UnixMilli()
	}
	_, err := db.Exec(`
		INSERT INTO flags (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		key, value, expiresAt, now.UnixMilli())
	return err
}

// GetFlag returns the flag value and whether it is present and still live.
// Reads never mutate: an expired row stays on disk until the next sweep.
func (db *DB) GetFlag(key string, now time.Time) (string, bool, error) {
	var value string
	var expiresAt int64
	err := db.QueryRow(`
		SELECT value, expires_at FROM flags WHERE key = ?`, key).
		Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expiresAt > 0 && expiresAt <= now.UnixMilli() {
		return "", false, nil
	}
	return value, true, nil
}

// DeleteFlag removes a flag.
func (db *DB) DeleteFlag(key string) error {
	_, err := db.Exec(`DELETE FROM flags WHERE key = ?`, key)
	return err
}

// ExpireStaleFlags removes every flag whose deadline has passed. Returns the
// number of rows removed.
func (db *DB) ExpireStaleFlags(now time.Time) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM flags WHERE expires_at > 0 AND expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
