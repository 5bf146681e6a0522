package transport

// Transport represents the surface a command arrived on.
type Transport int

const (
	// TransportUnknown represents an unknown transport type.
	TransportUnknown Transport = iota
	// TransportPeer represents the node-to-node request channel over TCP.
	TransportPeer
	// TransportTailscale represents the node-to-node request channel over tsnet.
	TransportTailscale
	// TransportHTTP represents the local HTTP surface.
	TransportHTTP
	// TransportWebSocket represents the local WebSocket surface.
	TransportWebSocket
)

// String returns the string representation of a transport type.
func (t Transport) String() string {
	switch t {
	case TransportPeer:
		return "peer"
	case TransportTailscale:
		return "tailscale"
	case TransportHTTP:
		return "http"
	case TransportWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// IsLocal reports whether commands on this transport come from the local
// client surface rather than from a remote node.
func (t Transport) IsLocal() bool {
	return t == TransportHTTP || t == TransportWebSocket
}
