// Package router decides who a chat message is from and to, files it in the
// archive, forwards outbound sends to the target node and mirrors every
// archived message to the live channel.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/live"
)

// DefaultForwardTimeout bounds the wait for a target node's acknowledgement.
const DefaultForwardTimeout = 5 * time.Second

// Forwarder delivers command bytes to another node and waits for its response.
type Forwarder interface {
	Forward(ctx context.Context, target string, payload []byte) (chat.Response, error)
}

// Router owns the archive and the live channel slot of one node. It is not
// safe for concurrent use: the node's event loop is its only caller.
type Router struct {
	node           string
	store          *archive.Store
	live           *live.Registry
	forwarder      Forwarder
	forwardTimeout time.Duration
	metrics        *Metrics
	logger         *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithForwardTimeout overrides DefaultForwardTimeout.
func WithForwardTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.forwardTimeout = d
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a router for the node named node.
// Forwarder may be nil, in which case every outbound send is archived locally only.
func New(node string, store *archive.Store, registry *live.Registry, forwarder Forwarder, opts ...Option) *Router {
	r := &Router{
		node:           node,
		store:          store,
		live:           registry,
		forwarder:      forwarder,
		forwardTimeout: DefaultForwardTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "router", "node", node)
	return r
}

// Node returns the local node name.
func (r *Router) Node() string {
	return r.node
}

// Dispatch decodes cmd.Raw and handles it. Bytes that do not decode are
// dropped: nothing is archived, nothing is replied and no error is returned.
func (r *Router) Dispatch(ctx context.Context, cmd Command) error {
	req, err := chat.DecodeRequest(cmd.Raw)
	if err != nil {
		r.metrics.RecordDropped(cmd.Transport)
		r.logger.DebugContext(ctx, "dropping undecodable command",
			"source", cmd.Source, "transport", cmd.Transport.String(), "error", err)
		return nil
	}

	switch req.Kind {
	case chat.RequestSend:
		return r.HandleSend(ctx, cmd, req.Send)
	case chat.RequestHistory:
		_, err := r.HandleHistory(ctx, cmd)
		return err
	default:
		return fmt.Errorf("unhandled request kind %s", req.Kind)
	}
}

// HandleSend files one message and fans it out.
//
// A send addressed to this node is an inbound message: it is filed under the
// sender and authored by the sender. Any other target is outbound: it is
// forwarded to the target, filed under the target and authored by this node.
// That includes targets that are neither this node nor the sender, so a node
// can act as a store-and-forward relay for a third party.
//
// Forwarding failures never prevent the local append. Commands from peers are
// acknowledged after the append; local commands are not, their surface
// answers on its own.
func (r *Router) HandleSend(ctx context.Context, cmd Command, send chat.Send) error {
	counterparty, author := r.parties(cmd.Source, send.Target)

	if send.Target != r.node {
		r.logger.InfoContext(ctx, "new message",
			"from", cmd.Source, "to", send.Target, "content", send.Message)
		r.forward(ctx, cmd, send)
	}

	n := r.store.Append(counterparty, archive.Message{Author: author, Content: send.Message})
	if n < 1 {
		return fmt.Errorf("%w: conversation %q empty after append", ErrInvariant, counterparty)
	}
	r.metrics.RecordArchived(cmd.Transport, r.store.Len())

	if !cmd.Local() {
		if err := cmd.reply(ctx, chat.AckResponse()); err != nil {
			r.logger.WarnContext(ctx, "ack to peer failed", "source", cmd.Source, "error", err)
		}
	}

	r.push(ctx, chat.NewMessageEvent(counterparty, author, send.Message))
	return nil
}

// HandleHistory replies with a copy of the whole archive and returns it.
func (r *Router) HandleHistory(ctx context.Context, cmd Command) (archive.Archive, error) {
	snapshot := r.store.Snapshot()
	if err := cmd.reply(ctx, chat.HistoryResponse(snapshot)); err != nil {
		return snapshot, fmt.Errorf("reply history to %s: %w", cmd.Source, err)
	}
	return snapshot, nil
}

// Attach makes channelID the live channel, replacing any previous one.
func (r *Router) Attach(ctx context.Context, channelID string) {
	if prev, ok := r.live.Current(); ok && prev != channelID {
		r.logger.InfoContext(ctx, "live channel replaced", "previous", prev, "channel", channelID)
	} else {
		r.logger.InfoContext(ctx, "live channel attached", "channel", channelID)
	}
	r.live.Attach(channelID)
}

// ChannelClosed records that a viewer channel went away. The slot keeps its
// last value until another viewer attaches.
func (r *Router) ChannelClosed(ctx context.Context, channelID string) {
	current, _ := r.live.Current()
	r.logger.DebugContext(ctx, "live channel closed", "channel", channelID, "attached", current == channelID)
}

// Status summarizes router state for health reporting.
type Status struct {
	Node          string `json:"node"`
	Conversations int    `json:"conversations"`
	LiveChannel   string `json:"live_channel,omitempty"`
}

// Status returns the current router state.
func (r *Router) Status() Status {
	channelID, _ := r.live.Current()
	return Status{
		Node:          r.node,
		Conversations: r.store.Len(),
		LiveChannel:   channelID,
	}
}

// parties returns the conversation key and the author for a send from source to target.
func (r *Router) parties(source, target string) (counterparty, author string) {
	if target == r.node {
		return source, source
	}
	return target, r.node
}

func (r *Router) forward(ctx context.Context, cmd Command, send chat.Send) {
	if r.forwarder == nil {
		r.metrics.RecordForwardFailure("no_forwarder")
		r.logger.WarnContext(ctx, "no forwarder configured; archiving locally", "target", send.Target)
		return
	}

	payload, err := cmd.payload(send)
	if err != nil {
		r.metrics.RecordForwardFailure("encode")
		r.logger.WarnContext(ctx, "encode forward payload", "target", send.Target, "error", err)
		return
	}

	fctx, cancel := context.WithTimeout(ctx, r.forwardTimeout)
	defer cancel()

	resp, err := r.forwarder.Forward(fctx, send.Target, payload)
	if err != nil {
		reason := failureReason(err)
		r.metrics.RecordForwardFailure(reason)
		r.logger.WarnContext(ctx, "forward failed; archiving locally",
			"target", send.Target, "reason", reason, "error", err)
		return
	}
	r.logger.DebugContext(ctx, "got response", "target", send.Target, "kind", int(resp.Kind))
}

func (r *Router) push(ctx context.Context, ev chat.Event) {
	attempted, err := r.live.Push(ctx, ev)
	switch {
	case !attempted:
		r.metrics.RecordPush("skipped")
	case err != nil:
		r.metrics.RecordPush("failed")
		r.logger.DebugContext(ctx, "live push failed", "error", err)
	default:
		r.metrics.RecordPush("sent")
	}
}
