package transport

import "testing"

func TestTransportString(t *testing.T) {
	testCases := []struct {
		transport Transport
		expected  string
	}{
		{TransportUnknown, "unknown"},
		{TransportPeer, "peer"},
		{TransportTailscale, "tailscale"},
		{TransportHTTP, "http"},
		{TransportWebSocket, "websocket"},
		{Transport(99), "unknown"},
	}

	for _, tc := range testCases {
		if got := tc.transport.String(); got != tc.expected {
			t.Errorf("Transport(%d).String() = %q, expected %q", tc.transport, got, tc.expected)
		}
	}
}

func TestIsLocal(t *testing.T) {
	if !TransportHTTP.IsLocal() || !TransportWebSocket.IsLocal() {
		t.Error("HTTP and WebSocket must be local")
	}
	if TransportPeer.IsLocal() || TransportTailscale.IsLocal() || TransportUnknown.IsLocal() {
		t.Error("peer transports must not be local")
	}
}
