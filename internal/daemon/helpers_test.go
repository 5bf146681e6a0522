package daemon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/config"
	"github.com/leonletto/chatnode/internal/live"
	"github.com/leonletto/chatnode/internal/logging"
	"github.com/leonletto/chatnode/internal/router"
)

// recordingSender collects live frames. It is written from the loop
// goroutine and read from the test goroutine.
type recordingSender struct {
	mu     sync.Mutex
	frames map[string][]chat.Event
}

func newRecordingSender() *recordingSender {
	return &recordingSender{frames: make(map[string][]chat.Event)}
}

func (s *recordingSender) SendText(channelID string, data []byte) error {
	ev, err := chat.DecodeEvent(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[channelID] = append(s.frames[channelID], ev)
	return nil
}

func (s *recordingSender) events(channelID string) []chat.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Event(nil), s.frames[channelID]...)
}

func testLogger() *slog.Logger {
	return logging.Discard()
}

// startLoop runs a loop for node until the test ends.
func startLoop(t *testing.T, node string, fwd router.Forwarder, sender live.Sender) *Loop {
	t.Helper()
	r := router.New(node, archive.NewStore(), live.NewRegistry(sender), fwd,
		router.WithLogger(testLogger()),
		router.WithForwardTimeout(time.Second))
	loop := NewLoop(r, 0, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

func listenLocal(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func testConfig(node string, peers map[string]string) config.Config {
	return config.Config{
		Node:            node,
		HTTPAddr:        "127.0.0.1:0",
		PeerAddr:        "127.0.0.1:0",
		ForwardTimeout:  time.Second,
		MaxRequestBytes: DefaultMaxLineBytes,
		LogLevel:        "error",
		LogFormat:       "text",
		Peers:           peers,
	}
}

func sendCommand(t *testing.T, source, target, message string) router.Command {
	t.Helper()
	raw, err := chat.NewSendRequest(target, message).MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}
	return router.Command{Source: source, Raw: raw}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
