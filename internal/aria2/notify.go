package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"nhooyr.io/websocket"
)

// Notification represents an async event pushed by aria2.
type Notification struct {
	Method string              `json:"method"`
	Params []NotificationEvent `json:"params"`
}

// NotificationEvent contains details for an aria2 notification.
type NotificationEvent struct {
	GID string `json:"gid"`
}

// WebsocketURL maps the RPC endpoint onto its websocket twin.
func (c *Client) WebsocketURL() (string, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", wsURL.Scheme)
	}
	return wsURL.String(), nil
}

// Notifications connects to the aria2 WebSocket endpoint and streams
// async notifications. The returned channel is closed when the connection
// terminates or the context is cancelled.
func (c *Client) Notifications(ctx context.Context) (<-chan Notification, error) {
	u, err := c.WebsocketURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	ch := make(chan Notification, 8)
	go func() {
		defer close(ch)
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var n Notification
			if err := json.Unmarshal(bytes.TrimSpace(msg), &n); err != nil || n.Method == "" {
				// RPC responses share the socket; only notifications carry a method
				continue
			}
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
