package daemon

import (
	"sync"
	"testing"
	"time"
)

func TestPeerDirectory(t *testing.T) {
	d, err := NewPeerDirectory(map[string]string{
		"carol": "10.0.0.3:9100",
		"bob":   "10.0.0.2:9100",
	})
	if err != nil {
		t.Fatalf("NewPeerDirectory() error = %v", err)
	}

	if addr, ok := d.Lookup("bob"); !ok || addr != "10.0.0.2:9100" {
		t.Errorf("Lookup(bob) = %q, %v", addr, ok)
	}
	if _, ok := d.Lookup("dave"); ok {
		t.Error("Lookup(dave) should miss")
	}

	list := d.List()
	if len(list) != 2 || list[0].Name != "bob" || list[1].Name != "carol" {
		t.Errorf("List() = %+v, want sorted bob, carol", list)
	}

	seen := time.Now()
	d.MarkSeen("bob", seen)
	d.MarkSeen("dave", seen) // unknown peers are ignored
	if got := d.List()[0].LastSeen; !got.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got, seen)
	}

	if err := d.Add("bob", "10.0.0.9:9100"); err != nil {
		t.Fatal(err)
	}
	if addr, _ := d.Lookup("bob"); addr != "10.0.0.9:9100" {
		t.Errorf("Add did not replace address, got %q", addr)
	}

	if !d.Remove("carol") {
		t.Error("Remove(carol) = false")
	}
	if d.Remove("carol") {
		t.Error("second Remove(carol) = true")
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

func TestPeerDirectory_AddValidation(t *testing.T) {
	d, _ := NewPeerDirectory(nil)

	tests := []struct {
		name, peer, addr string
	}{
		{"invalid name", "Bob Smith", "10.0.0.2:9100"},
		{"reserved name", "daemon", "10.0.0.2:9100"},
		{"empty address", "bob", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Add(tt.peer, tt.addr); err == nil {
				t.Errorf("Add(%q, %q) should fail", tt.peer, tt.addr)
			}
		})
	}
}

func TestPeerDirectory_Concurrent(t *testing.T) {
	d, _ := NewPeerDirectory(map[string]string{"bob": "10.0.0.2:9100"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.MarkSeen("bob", time.Now())
		}()
		go func() {
			defer wg.Done()
			_ = d.List()
			_, _ = d.Lookup("bob")
		}()
	}
	wg.Wait()
}
