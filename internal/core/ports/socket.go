package ports

import "context"

// SocketConn is a minimal read-side view of a WebSocket connection. The
// tracking session is the exclusive owner of its connection; no other
// component may write to it.
type SocketConn interface {
	// ReadMessage blocks until the next text frame arrives or the connection
	// closes, in which case it returns an error.
	ReadMessage() ([]byte, error)
	Close() error
}

// SocketDialer establishes the tracking channel for one order. The dialer is
// responsible for building the endpoint URL, including scheme selection and
// the auth token query parameter.
type SocketDialer interface {
	Dial(ctx context.Context, orderID, authToken string) (SocketConn, error)
}
