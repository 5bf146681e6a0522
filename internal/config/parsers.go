package config

import (
	"fmt"
	"sort"
	"strings"
)

// ParsePeers parses a peer list of the form "bob=host:9100,carol=host:9101".
// Names are lowercased; blank entries are skipped.
func ParsePeers(s string) (map[string]string, error) {
	peers := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, addr, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		addr = strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("peer entry %q: want name=host:port", entry)
		}
		if _, dup := peers[name]; dup {
			return nil, fmt.Errorf("peer %q listed twice", name)
		}
		peers[name] = addr
	}
	return peers, nil
}

// FormatPeers renders peers in the form ParsePeers accepts, sorted by name.
func FormatPeers(peers map[string]string) string {
	names := make([]string, 0, len(peers))
	for name := range peers {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+peers[name])
	}
	return strings.Join(parts, ",")
}

func decodePeers(raw any) (map[string]string, error) {
	switch val := raw.(type) {
	case nil:
		return map[string]string{}, nil
	case string:
		return ParsePeers(val)
	case map[string]string:
		out := make(map[string]string, len(val))
		for name, addr := range val {
			out[strings.ToLower(name)] = addr
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(val))
		for name, addr := range val {
			s, ok := addr.(string)
			if !ok {
				return nil, fmt.Errorf("peer %q: address must be a string, got %T", name, addr)
			}
			out[strings.ToLower(name)] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported peers value of type %T", raw)
	}
}
