// Package archive holds the in-memory per-conversation message history of a node.
package archive

// Message is a single chat line as stored and shown to viewers.
type Message struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// Archive maps a counterparty node name to the ordered messages exchanged with it.
type Archive map[string][]Message

// Store owns the Archive for the lifetime of the process.
// It is not safe for concurrent use; the event loop is its only caller.
type Store struct {
	conversations Archive
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{conversations: make(Archive)}
}

// Append adds m to the conversation keyed by key, creating the conversation
// if this is the first message with that counterparty. It returns the
// conversation length after the append.
func (s *Store) Append(key string, m Message) int {
	s.conversations[key] = append(s.conversations[key], m)
	return len(s.conversations[key])
}

// Snapshot returns a deep copy of every conversation.
func (s *Store) Snapshot() Archive {
	out := make(Archive, len(s.conversations))
	for key, msgs := range s.conversations {
		cp := make([]Message, len(msgs))
		copy(cp, msgs)
		out[key] = cp
	}
	return out
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	return len(s.conversations)
}
