package daemon

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/leonletto/chatnode/internal/identity"
)

// PeerInfo is a known peer node.
type PeerInfo struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen,omitempty"` // last acknowledged forward
}

// PeerDirectory maps node names to peer-channel addresses.
// Thread-safe; the peer client reads it from the loop while CLI and health
// surfaces read it from their own goroutines.
type PeerDirectory struct {
	mu    sync.RWMutex
	peers map[string]*PeerInfo // keyed by node name
}

// NewPeerDirectory creates a directory seeded from a name -> address map.
func NewPeerDirectory(peers map[string]string) (*PeerDirectory, error) {
	d := &PeerDirectory{peers: make(map[string]*PeerInfo, len(peers))}
	for name, addr := range peers {
		if err := d.Add(name, addr); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add adds or replaces a peer.
func (d *PeerDirectory) Add(name, addr string) error {
	if err := identity.ValidateNodeName(name); err != nil {
		return fmt.Errorf("peer: %w", err)
	}
	if addr == "" {
		return fmt.Errorf("peer %s: address is required", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[name] = &PeerInfo{Name: name, Address: addr}
	return nil
}

// Remove deletes a peer. Returns false if it was not known.
func (d *PeerDirectory) Remove(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.peers[name]; !ok {
		return false
	}
	delete(d.peers, name)
	return true
}

// Lookup returns the address of the named peer.
func (d *PeerDirectory) Lookup(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.peers[name]
	if !ok {
		return "", false
	}
	return p.Address, true
}

// MarkSeen records a successful exchange with the named peer.
func (d *PeerDirectory) MarkSeen(name string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.peers[name]; ok {
		p.LastSeen = at
	}
}

// List returns copies of all peers sorted by name.
func (d *PeerDirectory) List() []PeerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]PeerInfo, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of known peers.
func (d *PeerDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}
