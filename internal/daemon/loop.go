package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/router"
)

// DefaultQueueSize is the number of events that may wait for the loop.
const DefaultQueueSize = 64

// ErrLoopStopped is returned by Submit once the loop has exited.
var ErrLoopStopped = errors.New("event loop stopped")

// EventKind identifies what an Event asks the loop to do.
type EventKind int

const (
	// EventCommand dispatches a chat command through the router.
	EventCommand EventKind = iota + 1
	// EventChannelOpen attaches a viewer channel as the live channel.
	EventChannelOpen
	// EventChannelClose reports that a viewer channel went away.
	EventChannelClose
	// EventInspect runs a read-only function against the router.
	EventInspect
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventChannelOpen:
		return "channel_open"
	case EventChannelClose:
		return "channel_close"
	case EventInspect:
		return "inspect"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the loop.
type Event struct {
	Kind      EventKind
	Command   router.Command       // EventCommand
	ChannelID string               // EventChannelOpen, EventChannelClose
	Inspect   func(*router.Router) // EventInspect

	done chan error
}

// Loop serializes every state change of a node. It is the only goroutine
// that touches the router, so the archive and the live slot need no locks.
type Loop struct {
	router  *router.Router
	events  chan *Event
	stopped chan struct{}
	logger  *slog.Logger
}

// NewLoop creates a loop around r. queueSize <= 0 uses DefaultQueueSize.
func NewLoop(r *router.Router, queueSize int, logger *slog.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		router:  r,
		events:  make(chan *Event, queueSize),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "loop"),
	}
}

// Node returns the name of the node the loop serves.
func (l *Loop) Node() string {
	return l.router.Node()
}

// Run processes events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.events:
			ev.done <- l.process(ctx, ev)
		}
	}
}

// Submit enqueues ev and waits until the loop has fully processed it.
// If ctx ends first Submit returns ctx.Err(); an event already queued is
// still processed.
func (l *Loop) Submit(ctx context.Context, ev Event) error {
	e := ev
	e.done = make(chan error, 1)

	select {
	case l.events <- &e:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-e.done:
		return err
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dispatch submits a chat command.
func (l *Loop) Dispatch(ctx context.Context, cmd router.Command) error {
	return l.Submit(ctx, Event{Kind: EventCommand, Command: cmd})
}

// OpenChannel attaches channelID as the live channel.
func (l *Loop) OpenChannel(ctx context.Context, channelID string) error {
	return l.Submit(ctx, Event{Kind: EventChannelOpen, ChannelID: channelID})
}

// CloseChannel reports that channelID disconnected.
func (l *Loop) CloseChannel(ctx context.Context, channelID string) error {
	return l.Submit(ctx, Event{Kind: EventChannelClose, ChannelID: channelID})
}

// Status reads the router status on the loop.
func (l *Loop) Status(ctx context.Context) (router.Status, error) {
	var st router.Status
	err := l.Submit(ctx, Event{Kind: EventInspect, Inspect: func(r *router.Router) {
		st = r.Status()
	}})
	return st, err
}

// History returns a snapshot of the archive without replying to anyone.
func (l *Loop) History(ctx context.Context) (archive.Archive, error) {
	var snap archive.Archive
	err := l.Submit(ctx, Event{Kind: EventInspect, Inspect: func(r *router.Router) {
		snap, _ = r.HandleHistory(ctx, router.Command{Source: r.Node()})
	}})
	return snap, err
}

// process handles one event. A panic fails only that event.
func (l *Loop) process(ctx context.Context, ev *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic processing %s event: %v", ev.Kind, p)
			l.logger.ErrorContext(ctx, "event panicked",
				"kind", ev.Kind.String(), "panic", p, "stack", string(debug.Stack()))
		}
	}()

	switch ev.Kind {
	case EventCommand:
		err = l.router.Dispatch(ctx, ev.Command)
	case EventChannelOpen:
		l.router.Attach(ctx, ev.ChannelID)
	case EventChannelClose:
		l.router.ChannelClosed(ctx, ev.ChannelID)
	case EventInspect:
		if ev.Inspect != nil {
			ev.Inspect(l.router)
		}
	default:
		err = fmt.Errorf("unknown event kind %d", ev.Kind)
	}

	if err != nil {
		l.logger.ErrorContext(ctx, "event failed", "kind", ev.Kind.String(), "error", err)
	}
	return err
}
