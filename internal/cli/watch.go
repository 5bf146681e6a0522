package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonletto/chatnode/internal/chat"
)

// Watch connects to the node's live channel and calls fn for each new
// message until ctx ends or the node closes the connection. Connecting makes
// this client the node's live viewer. Frames that are not events are skipped.
func (c *Client) Watch(ctx context.Context, fn func(chat.NewMessage)) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: DefaultTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.WatchURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.WatchURL(), err)
	}
	defer func() { _ = conn.Close() }()

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}

		ev, err := chat.DecodeEvent(data)
		if err != nil {
			var de *chat.DecodeError
			if errors.As(err, &de) {
				continue
			}
			return err
		}
		fn(*ev.NewMessage)
	}
}
