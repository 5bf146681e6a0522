package router

import (
	"context"
	"errors"

	"github.com/leonletto/chatnode/internal/chat"
)

var (
	// ErrRemoteTimeout is returned by forwarders when the target did not
	// answer within the forward timeout.
	ErrRemoteTimeout = errors.New("remote did not acknowledge in time")

	// ErrUnknownPeer is returned by forwarders when the target has no known address.
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrInvariant reports archive state that should be impossible.
	ErrInvariant = errors.New("archive invariant violated")
)

// failureReason classifies a forward error for logs and metrics.
func failureReason(err error) string {
	var de *chat.DecodeError
	switch {
	case errors.Is(err, ErrRemoteTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnknownPeer):
		return "unknown_peer"
	case errors.As(err, &de):
		return "decode"
	default:
		return "error"
	}
}
