package identity

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// nodeNameRegex defines valid node names: lowercase alphanumeric + underscores.
	nodeNameRegex = regexp.MustCompile(`^[a-z0-9_]+$`)

	// reservedNames are names that cannot be used for nodes.
	reservedNames = map[string]bool{
		"daemon":    true,
		"system":    true,
		"chatnode":  true,
		"all":       true,
		"broadcast": true,
	}
)

// GenerateChannelID generates a unique live channel ID using ULID.
// Format: "ch_" + ulid().
func GenerateChannelID() string {
	return "ch_" + generateULID()
}

// GenerateRequestID generates a unique peer request ID using ULID.
// Format: "req_" + ulid().
func GenerateRequestID() string {
	return "req_" + generateULID()
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// generateULID generates a ULID string.
func generateULID() string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy)
	return id.String()
}

// ValidateNodeName validates a node name according to the naming rules.
// Names are used as conversation keys, peer directory keys and config keys,
// and config keys are case-folded, so only lowercase is accepted.
//
// Rules:
//   - Allowed characters: lowercase letters (a-z), digits (0-9), underscores (_)
//   - Rejected: hyphens, dots, spaces, path separators, uppercase, special characters
//   - Reserved names: daemon, system, chatnode, all, broadcast
//   - Cannot be empty
//
// Returns nil if valid, error with explanation if invalid.
func ValidateNodeName(name string) error {
	if name == "" {
		return fmt.Errorf("node name cannot be empty")
	}

	if reservedNames[name] {
		return fmt.Errorf("node name '%s' is reserved and cannot be used", name)
	}

	if !nodeNameRegex.MatchString(name) {
		return fmt.Errorf("node name '%s' contains invalid characters; only lowercase letters (a-z), digits (0-9), and underscores (_) are allowed", name)
	}

	return nil
}
