// Package live tracks the single viewer channel that receives new-message
// events as they are archived.
package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leonletto/chatnode/internal/chat"
)

// Sender delivers a text frame to an open channel. The WebSocket client
// registry implements it.
type Sender interface {
	SendText(channelID string, data []byte) error
}

// Registry holds at most one attached channel. Attaching a second channel
// replaces the first (last writer wins); closing a channel does not clear the
// slot, so pushes to a closed channel fail at the Sender and are ignored by
// callers.
type Registry struct {
	sender    Sender
	channelID string
}

// NewRegistry creates an empty registry that pushes through sender.
func NewRegistry(sender Sender) *Registry {
	return &Registry{sender: sender}
}

// Attach registers channelID as the live channel.
func (r *Registry) Attach(channelID string) {
	r.channelID = channelID
}

// Current returns the attached channel ID and whether one is attached.
func (r *Registry) Current() (string, bool) {
	return r.channelID, r.channelID != ""
}

// Push encodes ev as a JSON text frame and sends it to the attached channel.
// It reports whether a send was attempted; with no channel attached it does
// nothing and returns false, nil.
func (r *Registry) Push(_ context.Context, ev chat.Event) (bool, error) {
	if r.channelID == "" || r.sender == nil {
		return false, nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return true, fmt.Errorf("marshal live event: %w", err)
	}

	if err := r.sender.SendText(r.channelID, data); err != nil {
		return true, fmt.Errorf("push to channel %s: %w", r.channelID, err)
	}
	return true, nil
}
