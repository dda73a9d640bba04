package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one established bidirectional event channel.
type Conn interface {
	// ReadEnvelope blocks until the next server event or a read error.
	ReadEnvelope() (Envelope, error)
	// WriteEnvelope sends one event to the server.
	WriteEnvelope(event string, data any) error
	Close() error
}

// Transport establishes connections. The bearer token travels in the
// handshake Authorization header; the returned name ("websocket") is
// recorded in the state store.
type Transport interface {
	Dial(ctx context.Context, rawURL, token string) (conn Conn, name string, err error)
}

// WebsocketTransport dials the platform event channel over websocket.
type WebsocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebsocketTransport creates a transport with a bounded handshake timeout.
func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Dial implements Transport.
func (t *WebsocketTransport) Dial(ctx context.Context, rawURL, token string) (Conn, string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := t.dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, "", fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, "", fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{ws: ws}, "websocket", nil
}

// wsConn wraps a gorilla connection. Writes are serialized because the
// underlying connection permits one concurrent writer.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadEnvelope() (Envelope, error) {
	var env Envelope
	if err := c.ws.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(Envelope{Event: event, Data: payload})
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
