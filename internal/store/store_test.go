package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run checks idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	convs := []Conversation{
		{ID: "c1", Type: "direct", Name: "Ana", UnreadCount: 2, LastMessageAt: 1000},
		{ID: "c2", Type: "group", Name: "Front desk", LastMessageAt: 3000},
	}
	for i := range convs {
		if err := db.UpsertConversation(&convs[i]); err != nil {
			t.Fatal(err)
		}
	}
	// Second upsert of c1 with a newer timestamp replaces, not duplicates.
	if err := db.UpsertConversation(&Conversation{ID: "c1", Type: "direct", Name: "Ana", UnreadCount: 3, LastMessageAt: 5000}); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "c1" || got[0].UnreadCount != 3 {
		t.Errorf("head = %+v, want updated c1 first", got[0])
	}
}

func TestZeroUnread(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation(&Conversation{ID: "c1", UnreadCount: 4}); err != nil {
		t.Fatal(err)
	}
	if err := db.ZeroUnread("c1"); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetConversation("c1")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.UnreadCount != 0 {
		t.Errorf("conversation = %+v, want unread 0", c)
	}
}

func TestMessageUpsertIsIdempotent(t *testing.T) {
	db := testDB(t)

	m := Message{ConversationID: "c1", MsgID: "m1", ClientID: "ck1", SenderID: "u2", Body: "hi", CreatedAt: 1000}
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}
	m.Body = "hi (edited)"
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}

	got, err := db.ListMessages("c1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (duplicate broadcast collapsed)", len(got))
	}
	if got[0].Body != "hi (edited)" {
		t.Errorf("body = %q", got[0].Body)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)
	for i, ts := range []int64{1000, 2000, 3000} {
		msg := Message{ConversationID: "c1", MsgID: string(rune('a' + i)), CreatedAt: ts}
		if err := db.UpsertMessage(&msg); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("c1", 3000, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].CreatedAt != 2000 {
		t.Errorf("page = %+v, want the two messages before ts 3000, newest first", page)
	}
}

func TestNotificationMarkAllRead(t *testing.T) {
	db := testDB(t)
	for _, n := range []Notification{
		{ID: "n1", Title: "a", CreatedAt: 1000},
		{ID: "n2", Title: "b", CreatedAt: 2000},
	} {
		if err := db.UpsertNotification(&n); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.MarkAllNotificationsRead(); err != nil {
		t.Fatal(err)
	}
	list, err := db.ListNotifications(10)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range list {
		if !n.Read {
			t.Errorf("notification %s still unread", n.ID)
		}
	}
}

func TestFlagTTL(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	if err := db.SetFlag("sound", "off", 0); err != nil {
		t.Fatal(err)
	}
	if err := db.SetFlag("snooze", "1", time.Minute); err != nil {
		t.Fatal(err)
	}

	if v, ok, err := db.GetFlag("sound", now); err != nil || !ok || v != "off" {
		t.Errorf("sound = %q ok=%v err=%v", v, ok, err)
	}
	if _, ok, err := db.GetFlag("snooze", now); err != nil || !ok {
		t.Errorf("snooze should be live, ok=%v err=%v", ok, err)
	}

	later := now.Add(2 * time.Minute)
	// A read after the deadline sees the flag as absent but does not delete it.
	if _, ok, err := db.GetFlag("snooze", later); err != nil || ok {
		t.Errorf("snooze should be expired, ok=%v err=%v", ok, err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM flags WHERE key = 'snooze'`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expired row count = %d, want 1 (reads never delete)", count)
	}

	removed, err := db.ExpireStaleFlags(later)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	// The permanent flag survives the sweep.
	if v, ok, err := db.GetFlag("sound", later); err != nil || !ok || v != "off" {
		t.Errorf("sound after sweep = %q ok=%v err=%v", v, ok, err)
	}
}
