package websocket

import (
	"errors"
	"fmt"
	"sync"
)

// ErrChannelNotConnected is returned when a frame targets a channel with no
// open connection, such as a live slot left behind by a closed viewer.
var ErrChannelNotConnected = errors.New("channel not connected")

// ClientRegistry tracks connected viewers by channel ID. It is the live.Sender
// of the node it serves.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Connection
}

// NewClientRegistry creates a new client registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Connection),
	}
}

// Register adds a connection under channelID.
func (r *ClientRegistry) Register(channelID string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[channelID] = conn
}

// Unregister removes channelID.
func (r *ClientRegistry) Unregister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, channelID)
}

// Get retrieves the connection for channelID.
func (r *ClientRegistry) Get(channelID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.clients[channelID]
	return conn, ok
}

// Count returns the number of connected viewers.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes all viewer connections.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, conn := range r.clients {
		_ = conn.Close()
	}
	r.clients = make(map[string]*Connection)
}

// SendText queues data as a text frame on channelID.
func (r *ClientRegistry) SendText(channelID string, data []byte) error {
	r.mu.RLock()
	conn, exists := r.clients[channelID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotConnected, channelID)
	}

	if err := conn.Send(data); err != nil {
		// Client disconnected or buffer full - unregister them
		r.Unregister(channelID)
		return fmt.Errorf("send to %s: %w", channelID, err)
	}
	return nil
}
