package router

import (
	"context"
	"encoding/json"

	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/transport"
)

// ReplyFunc sends a response back over the surface the command arrived on.
type ReplyFunc func(ctx context.Context, resp chat.Response) error

// Command is one inbound chat command together with its origin.
type Command struct {
	// Source is the node that issued the command: the local node for HTTP
	// and WebSocket callers, the asserted peer name for peer requests.
	Source string
	// Transport is the surface the command arrived on.
	Transport transport.Transport
	// Raw holds the undecoded command bytes. Outbound sends forward these
	// bytes unchanged.
	Raw []byte
	// Reply answers the caller. It may be nil when the surface has no reply path.
	Reply ReplyFunc
}

// Local reports whether the command came from the local client surface.
func (c Command) Local() bool {
	return c.Transport.IsLocal()
}

func (c Command) reply(ctx context.Context, resp chat.Response) error {
	if c.Reply == nil {
		return nil
	}
	return c.Reply(ctx, resp)
}

// payload returns the bytes to forward for send.
func (c Command) payload(send chat.Send) ([]byte, error) {
	if len(c.Raw) > 0 {
		return c.Raw, nil
	}
	return json.Marshal(chat.NewSendRequest(send.Target, send.Message))
}
