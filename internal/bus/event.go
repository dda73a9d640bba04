package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core. Subscribers filter by namespace
// prefix, e.g. "conn." receives every connection event.
const (
	// conn.* — connection observability (payload: status.State).
	KindStatusChanged = "conn.status_changed"

	// app.* — ambient application lifecycle, fed by the host shell
	// through the control API (no payload).
	KindAppForeground = "app.foreground"
	KindAppBackground = "app.background"
	KindAppOnline     = "app.online"

	// chat.* — conversation cache updates (payload: chat types).
	KindMessageUpserted   = "chat.message_upserted"
	KindMessageRolledBack = "chat.message_rolled_back"
	KindConversationRead  = "chat.conversation_read"

	// notify.* — notification list updates (payload: notify types).
	KindNotificationNew  = "notify.new"
	KindNotificationRead = "notify.read"
)
