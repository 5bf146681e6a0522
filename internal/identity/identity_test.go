package identity_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/leonletto/chatnode/internal/identity"
)

func TestGenerateChannelID(t *testing.T) {
	id := identity.GenerateChannelID()

	if !strings.HasPrefix(id, "ch_") {
		t.Errorf("GenerateChannelID() = %v, want prefix ch_", id)
	}

	// "ch_" + 26 ULID characters
	if len(id) != 29 {
		t.Errorf("GenerateChannelID() length = %d, want 29", len(id))
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := identity.GenerateRequestID()

	if !strings.HasPrefix(id, "req_") {
		t.Errorf("GenerateRequestID() = %v, want prefix req_", id)
	}
	if len(id) != 30 {
		t.Errorf("GenerateRequestID() length = %d, want 30", len(id))
	}
}

func TestGenerateChannelID_Monotonic(t *testing.T) {
	prev := identity.GenerateChannelID()
	for i := 0; i < 100; i++ {
		next := identity.GenerateChannelID()
		if next <= prev {
			t.Fatalf("IDs not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestGenerateRequestID_Concurrent(t *testing.T) {
	const n = 200
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := identity.GenerateRequestID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("expected %d unique IDs, got %d", n, len(seen))
	}
}

func TestValidateNodeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "alice", false},
		{"with digits", "node42", false},
		{"with underscore", "bob_laptop", false},
		{"empty", "", true},
		{"uppercase", "Alice", true},
		{"hyphen", "bob-laptop", true},
		{"dot", "bob.local", true},
		{"space", "bob laptop", true},
		{"path separator", "../etc", true},
		{"reserved daemon", "daemon", true},
		{"reserved broadcast", "broadcast", true},
		{"reserved chatnode", "chatnode", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := identity.ValidateNodeName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateNodeName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
