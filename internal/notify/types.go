package notify

import (
	"context"
	"time"
)

// Notification is one entry in the user's notification list.
type Notification struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Read      bool           `json:"read"`
	Type      string         `json:"type"` // chat | quote | system | appointment
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data,omitempty"` // opaque passthrough
}

// PushSubscription registers a device for server push delivery.
type PushSubscription struct {
	DeviceID string            `json:"deviceId"`
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys,omitempty"`
}

// AlertKind selects the styling of a transient alert.
type AlertKind string

const (
	AlertNotification AlertKind = "notification"
	AlertChatMessage  AlertKind = "chat_message"
	AlertAttention    AlertKind = "attention"
)

// Alert is a transient on-screen notice. Destination, when set, is the
// route a click navigates to.
type Alert struct {
	Kind        AlertKind
	Title       string
	Body        string
	Duration    time.Duration
	Destination string
}

// Alerter renders transient alerts. Implementations belong to the UI shell;
// the core only decides when and what to show.
type Alerter interface {
	Show(Alert)
}

// Player plays a short audio cue (a complete WAV file in memory).
type Player interface {
	Play(wav []byte) error
}

// Registrar obtains this device's push registration, the platform analog of
// a browser's service-worker subscription.
type Registrar interface {
	Subscription(ctx context.Context) (PushSubscription, error)
}
