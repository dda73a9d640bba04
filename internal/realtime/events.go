package realtime

import "encoding/json"

// Client-to-server events.
const (
	EventIdentify  = "identify"
	EventJoinChat  = "join_chat"
	EventLeaveChat = "leave_chat"
)

// Server-to-client events. Feed events share the channel but are consumed
// by the feed surface, not the core.
const (
	EventNotificationNew     = "notification:new"
	EventChatNewMessage      = "chat:new_message"
	EventChatAttention       = "chat:attention"
	EventFeedNewPost         = "feed:new_post"
	EventFeedPostUpdated     = "feed:post_updated"
	EventFeedReactionUpdated = "feed:post_reaction_updated"

	// EventUpgrade is engine-level: the channel renegotiated from polling
	// to websocket. Drives the state store only.
	EventUpgrade = "upgrade"
)

// Envelope is the wire format for every event on the channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// identifyPayload associates the channel with a session. The user id is
// sent after the handshake rather than in the connect query so it never
// appears in access logs.
type identifyPayload struct {
	UserID string `json:"userId"`
}

type upgradePayload struct {
	Transport string `json:"transport"`
}

type chatScopePayload struct {
	ConversationID string `json:"conversationId"`
}
