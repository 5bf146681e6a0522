package chat_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/leonletto/chatnode/internal/archive"
	"github.com/leonletto/chatnode/internal/chat"
)

func TestDecodeRequest(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    chat.Request
		wantErr bool
	}{
		{"send", `{"Send":{"target":"bob","message":"hi"}}`, chat.NewSendRequest("bob", "hi"), false},
		{"send empty message", `{"Send":{"target":"bob","message":""}}`, chat.NewSendRequest("bob", ""), false},
		{"send extra field ignored", `{"Send":{"target":"bob","message":"hi","x":1}}`, chat.NewSendRequest("bob", "hi"), false},
		{"history string", `"History"`, chat.NewHistoryRequest(), false},
		{"history null body", `{"History":null}`, chat.NewHistoryRequest(), false},
		{"history padded", "  \"History\"\n", chat.NewHistoryRequest(), false},
		{"send missing target", `{"Send":{"message":"hi"}}`, chat.Request{}, true},
		{"send missing message", `{"Send":{"target":"bob"}}`, chat.Request{}, true},
		{"send as unit", `"Send"`, chat.Request{}, true},
		{"history with args", `{"History":{"since":3}}`, chat.Request{}, true},
		{"history with empty object", `{"History":{}}`, chat.Request{}, true},
		{"unknown variant", `{"Delete":{}}`, chat.Request{}, true},
		{"two variants", `{"Send":{"target":"a","message":"b"},"History":null}`, chat.Request{}, true},
		{"not json", `hello`, chat.Request{}, true},
		{"empty", ``, chat.Request{}, true},
		{"number", `42`, chat.Request{}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := chat.DecodeRequest([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				var de *chat.DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("expected *DecodeError, got %T", err)
				}
				if de.Payload != "request" {
					t.Errorf("DecodeError.Payload = %q, want request", de.Payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRequest() failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("DecodeRequest() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestRequestEncoding(t *testing.T) {
	data, err := json.Marshal(chat.NewSendRequest("bob", "hi"))
	if err != nil {
		t.Fatalf("marshal send: %v", err)
	}
	if string(data) != `{"Send":{"target":"bob","message":"hi"}}` {
		t.Errorf("send encoded as %s", data)
	}

	data, err = json.Marshal(chat.NewHistoryRequest())
	if err != nil {
		t.Fatalf("marshal history: %v", err)
	}
	if string(data) != `"History"` {
		t.Errorf("history encoded as %s", data)
	}

	if _, err := json.Marshal(chat.Request{}); err == nil {
		t.Error("expected error marshaling zero request")
	}
}

func TestResponseEncoding(t *testing.T) {
	data, err := json.Marshal(chat.AckResponse())
	if err != nil {
		t.Fatalf("marshal ack: %v", err)
	}
	if string(data) != `"Ack"` {
		t.Errorf("ack encoded as %s", data)
	}

	hist := chat.HistoryResponse(archive.Archive{
		"bob": {{Author: "bob", Content: "hi"}},
	})
	data, err = json.Marshal(hist)
	if err != nil {
		t.Fatalf("marshal history: %v", err)
	}
	want := `{"History":{"messages":{"bob":[{"author":"bob","content":"hi"}]}}}`
	if string(data) != want {
		t.Errorf("history encoded as %s, want %s", data, want)
	}

	data, err = json.Marshal(chat.HistoryResponse(nil))
	if err != nil {
		t.Fatalf("marshal empty history: %v", err)
	}
	if string(data) != `{"History":{"messages":{}}}` {
		t.Errorf("empty history encoded as %s", data)
	}
}

func TestDecodeResponse(t *testing.T) {
	resp, err := chat.DecodeResponse([]byte(`"Ack"`))
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if resp.Kind != chat.ResponseAck {
		t.Errorf("expected ack, got kind %d", resp.Kind)
	}

	resp, err = chat.DecodeResponse([]byte(`{"History":{"messages":{"carol":[{"author":"alice","content":"yo"}]}}}`))
	if err != nil {
		t.Fatalf("decode history: %v", err)
	}
	want := archive.Archive{"carol": {{Author: "alice", Content: "yo"}}}
	if resp.Kind != chat.ResponseHistory || !reflect.DeepEqual(resp.Messages, want) {
		t.Errorf("decoded %+v, want history %v", resp, want)
	}

	resp, err = chat.DecodeResponse([]byte(`{"History":{"messages":null}}`))
	if err != nil {
		t.Fatalf("decode null history: %v", err)
	}
	if resp.Messages == nil || len(resp.Messages) != 0 {
		t.Errorf("expected empty non-nil archive, got %#v", resp.Messages)
	}

	for _, bad := range []string{`"Nack"`, `{"Ack":{"x":1}}`, `{"Ack":{}}`, `[]`, `{`} {
		if _, err := chat.DecodeResponse([]byte(bad)); err == nil {
			t.Errorf("expected error decoding %s", bad)
		}
	}
}

func TestEventEncoding(t *testing.T) {
	data, err := json.Marshal(chat.NewMessageEvent("bob", "alice", "hi"))
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	want := `{"NewMessage":{"chat":"bob","author":"alice","content":"hi"}}`
	if string(data) != want {
		t.Errorf("event encoded as %s, want %s", data, want)
	}

	ev, err := chat.DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if *ev.NewMessage != (chat.NewMessage{Chat: "bob", Author: "alice", Content: "hi"}) {
		t.Errorf("round trip mismatch: %+v", ev.NewMessage)
	}

	if _, err := chat.DecodeEvent([]byte(`{"Other":{}}`)); err == nil {
		t.Error("expected error for unknown event variant")
	}
}
