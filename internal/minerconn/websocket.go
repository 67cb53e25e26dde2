package minerconn

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport sends tasks over a WebSocket connection, one request and
// one reply per dial. Miners that keep a socket open between tasks are
// served equally well; the transport does not assume session reuse.
type WSTransport struct {
	dialer *websocket.Dialer
}

// NewWSTransport creates a WebSocket miner transport
func NewWSTransport() *WSTransport {
	return &WSTransport{
		dialer: &websocket.Dialer{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// wsEndpoint rewrites http(s) endpoints to their ws(s) equivalents
func wsEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// Send dials the miner, writes the task, and waits for the reply
func (t *WSTransport) Send(ctx context.Context, endpoint string, req *TaskRequest) (*TaskResponse, error) {
	target, err := wsEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	conn, _, err := t.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(deadlineFrom(ctx, 30*time.Second))
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(req); err != nil {
		return nil, err
	}

	// Unblock the read when the batch is cancelled mid-flight
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	_, data, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return decodeResponse(data, req)
}
