// Package ws implements the tracking channel transport over gorilla/websocket.
package ws

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/gorilla/websocket"

	"github.com/quickdash/storefront-core/internal/core/ports"
)

// Dialer connects tracking channels. The endpoint scheme follows the API base
// URL's transport security: https becomes wss, http becomes ws.
type Dialer struct {
	base url.URL
}

// NewDialer derives the WebSocket endpoint base from the storefront API URL.
func NewDialer(apiBaseURL string) (*Dialer, error) {
	u, err := url.Parse(apiBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ws dialer: parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return nil, fmt.Errorf("ws dialer: unsupported scheme %q", u.Scheme)
	}
	return &Dialer{base: *u}, nil
}

// TrackURL builds the channel endpoint for one order:
// {ws|wss}://host/ws/order/track/{orderID}/?token={authToken}.
func (d *Dialer) TrackURL(orderID, authToken string) string {
	u := d.base
	u.Path = path.Join(u.Path, "ws", "order", "track", orderID) + "/"
	q := u.Query()
	q.Set("token", authToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// Dial implements ports.SocketDialer.
func (d *Dialer) Dial(ctx context.Context, orderID, authToken string) (ports.SocketConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.TrackURL(orderID, authToken), nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &socketConn{conn: conn}, nil
}

type socketConn struct {
	conn *websocket.Conn
}

func (c *socketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *socketConn) Close() error {
	// Best-effort close handshake; the server may already be gone.
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
