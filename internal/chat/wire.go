// Package chat defines the commands, responses and live events exchanged
// between nodes, local clients and viewers.
//
// All three are externally tagged JSON unions:
//
//	{"Send":{"target":"bob","message":"hi"}}   "History"
//	"Ack"   {"History":{"messages":{...}}}
//	{"NewMessage":{"chat":"bob","author":"bob","content":"hi"}}
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/leonletto/chatnode/internal/archive"
)

const (
	tagSend       = "Send"
	tagHistory    = "History"
	tagAck        = "Ack"
	tagNewMessage = "NewMessage"
)

// RequestKind identifies the variant of a Request.
type RequestKind int

const (
	// RequestSend delivers a message to a target node.
	RequestSend RequestKind = iota + 1
	// RequestHistory asks for the full archive.
	RequestHistory
)

// String returns the wire tag of the request kind.
func (k RequestKind) String() string {
	switch k {
	case RequestSend:
		return tagSend
	case RequestHistory:
		return tagHistory
	default:
		return "unknown"
	}
}

// Send is the payload of a Send request.
type Send struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Request is a chat command, as received from a peer, an HTTP POST body or a
// WebSocket frame.
type Request struct {
	Kind RequestKind
	Send Send // set when Kind == RequestSend
}

// NewSendRequest builds a Send command.
func NewSendRequest(target, message string) Request {
	return Request{Kind: RequestSend, Send: Send{Target: target, Message: message}}
}

// NewHistoryRequest builds a History command.
func NewHistoryRequest() Request {
	return Request{Kind: RequestHistory}
}

// MarshalJSON encodes the request as an externally tagged union.
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RequestSend:
		return json.Marshal(map[string]Send{tagSend: r.Send})
	case RequestHistory:
		return json.Marshal(tagHistory)
	default:
		return nil, fmt.Errorf("marshal request: unknown kind %d", r.Kind)
	}
}

// UnmarshalJSON decodes an externally tagged request.
func (r *Request) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch tag {
	case tagSend:
		var fields struct {
			Target  *string `json:"target"`
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(body, &fields); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		if fields.Target == nil {
			return errors.New("send: missing field target")
		}
		if fields.Message == nil {
			return errors.New("send: missing field message")
		}
		*r = NewSendRequest(*fields.Target, *fields.Message)
	case tagHistory:
		if !isUnitBody(body) {
			return errors.New("history request takes no arguments")
		}
		*r = NewHistoryRequest()
	default:
		return fmt.Errorf("unknown request variant %q", tag)
	}
	return nil
}

// ResponseKind identifies the variant of a Response.
type ResponseKind int

const (
	// ResponseAck acknowledges a delivered Send.
	ResponseAck ResponseKind = iota + 1
	// ResponseHistory carries the full archive.
	ResponseHistory
)

// Response answers a Request.
type Response struct {
	Kind     ResponseKind
	Messages archive.Archive // set when Kind == ResponseHistory
}

// AckResponse returns the acknowledgement sent back to a peer after a Send.
func AckResponse() Response {
	return Response{Kind: ResponseAck}
}

// HistoryResponse wraps an archive snapshot.
func HistoryResponse(messages archive.Archive) Response {
	if messages == nil {
		messages = archive.Archive{}
	}
	return Response{Kind: ResponseHistory, Messages: messages}
}

type historyBody struct {
	Messages archive.Archive `json:"messages"`
}

// MarshalJSON encodes the response as an externally tagged union.
func (r Response) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResponseAck:
		return json.Marshal(tagAck)
	case ResponseHistory:
		msgs := r.Messages
		if msgs == nil {
			msgs = archive.Archive{}
		}
		return json.Marshal(map[string]historyBody{tagHistory: {Messages: msgs}})
	default:
		return nil, fmt.Errorf("marshal response: unknown kind %d", r.Kind)
	}
}

// UnmarshalJSON decodes an externally tagged response.
func (r *Response) UnmarshalJSON(data []byte) error {
	tag, body, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch tag {
	case tagAck:
		if !isUnitBody(body) {
			return errors.New("ack takes no arguments")
		}
		*r = AckResponse()
	case tagHistory:
		var hb historyBody
		if err := json.Unmarshal(body, &hb); err != nil {
			return fmt.Errorf("history: %w", err)
		}
		*r = HistoryResponse(hb.Messages)
	default:
		return fmt.Errorf("unknown response variant %q", tag)
	}
	return nil
}

// NewMessage is pushed to the live viewer after every archived message.
// Chat is the conversation key the message was filed under.
type NewMessage struct {
	Chat    string `json:"chat"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Event is a live update frame.
type Event struct {
	NewMessage *NewMessage `json:"NewMessage,omitempty"`
}

// NewMessageEvent wraps a NewMessage as a live event.
func NewMessageEvent(chat, author, content string) Event {
	return Event{NewMessage: &NewMessage{Chat: chat, Author: author, Content: content}}
}

// DecodeRequest parses command bytes. Failures are reported as *DecodeError.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, &DecodeError{Payload: "request", Err: err}
	}
	return req, nil
}

// DecodeResponse parses response bytes. Failures are reported as *DecodeError.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, &DecodeError{Payload: "response", Err: err}
	}
	return resp, nil
}

// DecodeEvent parses a live event frame. Failures are reported as *DecodeError.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, &DecodeError{Payload: "event", Err: err}
	}
	if ev.NewMessage == nil {
		return Event{}, &DecodeError{Payload: "event", Err: errors.New("unknown event variant")}
	}
	return ev, nil
}

// splitTagged returns the variant tag and its body. A bare JSON string is a
// unit variant and yields a nil body.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, errors.New("empty payload")
	}

	switch data[0] {
	case '"':
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", nil, err
		}
		if len(obj) != 1 {
			return "", nil, fmt.Errorf("expected exactly one variant, got %d keys", len(obj))
		}
		for tag, body := range obj {
			return tag, body, nil
		}
	}
	return "", nil, fmt.Errorf("expected string or object, got %q", data[0])
}

// isUnitBody reports whether body is valid for a variant without fields:
// absent or null. An empty object is rejected.
func isUnitBody(body json.RawMessage) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
