package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/DemianF-dev/7pet-mvp-sub001/internal/chat"
)

// ListConversations returns every conversation the user participates in.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation opens a new conversation with the given participants.
func (c *Client) CreateConversation(ctx context.Context, convType, name string, participantIDs []string) (chat.Conversation, error) {
	in := struct {
		Type           string   `json:"type"`
		Name           string   `json:"name,omitempty"`
		ParticipantIDs []string `json:"participantIds"`
	}{convType, name, participantIDs}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", in, &out); err != nil {
		return chat.Conversation{}, err
	}
	return out, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(conversationID), nil, nil)
}

// AddParticipant joins another user into an existing conversation.
func (c *Client) AddParticipant(ctx context.Context, conversationID, userID string) error {
	in := struct {
		UserID string `json:"userId"`
	}{userID}
	return c.do(ctx, http.MethodPost,
		"/api/conversations/"+url.PathEscape(conversationID)+"/participants", in, nil)
}

// TransferConversation hands the conversation off to another staff member,
// removing the caller from it.
func (c *Client) TransferConversation(ctx context.Context, conversationID, userID string) error {
	in := struct {
		UserID string `json:"userId"`
	}{userID}
	return c.do(ctx, http.MethodPost,
		"/api/conversations/"+url.PathEscape(conversationID)+"/transfer", in, nil)
}

// ListMessages returns the most recent messages first, as paged by the server.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	path := fmt.Sprintf("/api/conversations/%s/messages?limit=%d", url.PathEscape(conversationID), limit)
	var out []chat.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message. clientID is the idempotency key the server
// echoes back on both the response and the realtime broadcast.
func (c *Client) SendMessage(ctx context.Context, conversationID, clientID, content string) (chat.Message, error) {
	in := struct {
		Content  string `json:"content"`
		ClientID string `json:"clientId"`
	}{content, clientID}
	var out chat.Message
	if err := c.do(ctx, http.MethodPost,
		"/api/conversations/"+url.PathEscape(conversationID)+"/messages", in, &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost,
		"/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil)
}
