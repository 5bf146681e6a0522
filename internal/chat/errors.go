package chat

import "fmt"

// DecodeError reports bytes that could not be parsed as a chat payload.
// Receivers drop the payload; it never reaches the original caller.
type DecodeError struct {
	Payload string // "request", "response" or "event"
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Payload, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
