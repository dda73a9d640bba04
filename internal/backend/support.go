package backend

import (
	"context"
	"net/http"
	"time"
)

// SupportTicket is a help request filed against the platform team.
type SupportTicket struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c *Client) CreateSupportTicket(ctx context.Context, subject, message string) (SupportTicket, error) {
	in := struct {
		Subject string `json:"subject"`
		Message string `json:"message"`
	}{subject, message}
	var out SupportTicket
	if err := c.do(ctx, http.MethodPost, "/api/support/tickets", in, &out); err != nil {
		return SupportTicket{}, err
	}
	return out, nil
}

func (c *Client) ListSupportTickets(ctx context.Context) ([]SupportTicket, error) {
	var out []SupportTicket
	if err := c.do(ctx, http.MethodGet, "/api/support/tickets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
