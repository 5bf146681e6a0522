package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/leonletto/chatnode/internal/chat"
	"github.com/leonletto/chatnode/internal/cli"
)

const (
	defaultWaitTimeout = 300 // seconds
	maxWaitTimeout     = 600 // seconds
)

// waitForMessage watches the node's live channel until the first message
// arrives, timeoutSecs pass or the node closes the connection.
func waitForMessage(ctx context.Context, client *cli.Client, timeoutSecs int) (*WaitForMessageOutput, error) {
	timeout := clampWaitTimeout(timeoutSecs)

	wctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	start := time.Now()
	var got *chat.NewMessage
	err := client.Watch(wctx, func(m chat.NewMessage) {
		if got == nil {
			got = &m
			cancel()
		}
	})
	waited := int(time.Since(start).Seconds())

	switch {
	case got != nil:
		return &WaitForMessageOutput{
			Status:        "message_received",
			Message:       &NewMessageInfo{Chat: got.Chat, Author: got.Author, Content: got.Content},
			WaitedSeconds: waited,
		}, nil
	case err != nil:
		return nil, fmt.Errorf("wait for message: %w", err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case wctx.Err() != nil:
		return &WaitForMessageOutput{Status: "timeout", WaitedSeconds: waited}, nil
	default:
		return &WaitForMessageOutput{Status: "closed", WaitedSeconds: waited}, nil
	}
}

func clampWaitTimeout(secs int) int {
	switch {
	case secs <= 0:
		return defaultWaitTimeout
	case secs > maxWaitTimeout:
		return maxWaitTimeout
	default:
		return secs
	}
}
