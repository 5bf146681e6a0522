package live_test

import (
	"context"
	"errors"
	"testing"

	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/live"
)

type frame struct {
	channelID string
	data      string
}

type recordingSender struct {
	frames []frame
	err    error
}

func (s *recordingSender) SendText(channelID string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame{channelID: channelID, data: string(data)})
	return nil
}

func TestPush_NoChannelIsNoop(t *testing.T) {
	sender := &recordingSender{}
	reg := live.NewRegistry(sender)

	attempted, err := reg.Push(context.Background(), chat.NewMessageEvent("bob", "bob", "hi"))
	if err != nil {
		t.Fatalf("Push() returned error with no channel: %v", err)
	}
	if attempted {
		t.Error("Push() attempted a send with no channel attached")
	}
	if len(sender.frames) != 0 {
		t.Errorf("expected no frames, got %d", len(sender.frames))
	}
	if _, ok := reg.Current(); ok {
		t.Error("Current() reports a channel before Attach")
	}
}

func TestPush_EncodesNewMessage(t *testing.T) {
	sender := &recordingSender{}
	reg := live.NewRegistry(sender)
	reg.Attach("ch1")

	attempted, err := reg.Push(context.Background(), chat.NewMessageEvent("bob", "alice", "hi"))
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if !attempted {
		t.Fatal("Push() did not attempt a send")
	}
	if len(sender.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sender.frames))
	}

	want := `{"NewMessage":{"chat":"bob","author":"alice","content":"hi"}}`
	if sender.frames[0].data != want {
		t.Errorf("frame = %s, want %s", sender.frames[0].data, want)
	}
	if sender.frames[0].channelID != "ch1" {
		t.Errorf("frame sent to %q, want ch1", sender.frames[0].channelID)
	}
}

func TestAttach_LastWriterWins(t *testing.T) {
	sender := &recordingSender{}
	reg := live.NewRegistry(sender)
	reg.Attach("first")
	reg.Attach("second")

	if id, ok := reg.Current(); !ok || id != "second" {
		t.Fatalf("Current() = %q, %v; want second, true", id, ok)
	}

	if _, err := reg.Push(context.Background(), chat.NewMessageEvent("bob", "bob", "x")); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if len(sender.frames) != 1 || sender.frames[0].channelID != "second" {
		t.Errorf("expected one frame to second, got %+v", sender.frames)
	}
}

func TestPush_SenderErrorIsReturned(t *testing.T) {
	errGone := errors.New("channel gone")
	reg := live.NewRegistry(&recordingSender{err: errGone})
	reg.Attach("stale")

	attempted, err := reg.Push(context.Background(), chat.NewMessageEvent("bob", "bob", "hi"))
	if !attempted {
		t.Error("expected a send attempt")
	}
	if !errors.Is(err, errGone) {
		t.Errorf("expected wrapped sender error, got %v", err)
	}
}
