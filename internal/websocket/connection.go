package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/router"
	"github.com/leonletto/chatnode/internal/transport"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// ErrConnectionClosed is returned by Send after Close.
var ErrConnectionClosed = errors.New("connection closed")

// Connection is one viewer on the live channel. Text frames it sends are
// handled as local commands; live events and replies are queued to it.
type Connection struct {
	conn      *websocket.Conn
	server    *Server
	channelID string
	readLimit int64
	sendCh    chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewConnection wraps conn as the viewer channel channelID.
func NewConnection(conn *websocket.Conn, channelID string, server *Server, readLimit int64) *Connection {
	return &Connection{
		conn:      conn,
		server:    server,
		channelID: channelID,
		readLimit: readLimit,
		sendCh:    make(chan []byte, sendBuffer),
	}
}

// ReadLoop reads frames until the connection closes.
func (c *Connection) ReadLoop(ctx context.Context) error {
	defer func() {
		_ = c.Close()
	}()

	if c.readLimit > 0 {
		c.conn.SetReadLimit(c.readLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("read error: %w", err)
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.handleFrame(ctx, message); err != nil {
			c.server.logger.WarnContext(ctx, "websocket command failed", "channel", c.channelID, "error", err)
		}
	}
}

// WriteLoop writes queued frames and keepalive pings until the connection closes.
func (c *Connection) WriteLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case message, ok := <-c.sendCh:
			if !ok {
				return nil
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return fmt.Errorf("write error: %w", err)
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping error: %w", err)
			}
		}
	}
}

// Send queues a frame. It never blocks: a full buffer is an error.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- msg:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close closes the connection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.sendCh)
	return c.conn.Close()
}

// handleFrame runs one frame as a local command. A History request is
// answered on this connection.
func (c *Connection) handleFrame(ctx context.Context, data []byte) error {
	cmd := router.Command{
		Source:    c.server.node.Node(),
		Transport: transport.TransportWebSocket,
		Raw:       data,
		Reply: func(_ context.Context, resp chat.Response) error {
			out, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("marshal response: %w", err)
			}
			return c.Send(out)
		},
	}
	return c.server.node.Dispatch(ctx, cmd)
}
