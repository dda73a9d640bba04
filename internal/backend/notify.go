package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/notify"
)

// ListNotifications returns the newest notifications first.
func (c *Client) ListNotifications(ctx context.Context, limit int) ([]notify.Notification, error) {
	var out []notify.Notification
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/notifications?limit=%d", limit), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/api/notifications/read-all", nil, nil)
}

// RegisterPushSubscription records this device for server push delivery.
// Re-registering the same device id is an upsert on the server side.
func (c *Client) RegisterPushSubscription(ctx context.Context, sub notify.PushSubscription) error {
	return c.do(ctx, http.MethodPost, "/api/push/subscriptions", sub, nil)
}
