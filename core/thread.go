package core

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ThreadKey identifies one isolated conversation log. Pair is the
// direction-agnostic participant pair (permission to *start* a thread stays
// directional and is enforced by the communication graph, never here);
// ConversationID separates independent conversations between the same pair.
type ThreadKey struct {
	Pair           string `json:"pair"`
	ConversationID string `json:"conversation_id"`
}

// NewThreadKey builds the canonical key for the pair {a, b}. Participant
// order is normalized lexicographically so a reply reuses the thread the
// request opened.
func NewThreadKey(a, b, conversationID string) ThreadKey {
	if b < a {
		a, b = b, a
	}
	return ThreadKey{Pair: a + "<->" + b, ConversationID: conversationID}
}

// String encodes the key for use in snapshot maps.
func (k ThreadKey) String() string { return k.Pair + "|" + k.ConversationID }

// ParseThreadKey is the inverse of String. It fails on malformed input so a
// corrupted snapshot is detected at restore time rather than silently merged.
func ParseThreadKey(s string) (ThreadKey, error) {
	pair, conv, ok := strings.Cut(s, "|")
	if !ok || !strings.Contains(pair, "<->") {
		return ThreadKey{}, fmt.Errorf("malformed thread key %q", s)
	}
	return ThreadKey{Pair: pair, ConversationID: conv}, nil
}

// Thread is the append-only, ordered message log for one communicating pair.
// It is safe for concurrent access from independent runs.
//
// Contract:
//   - Append assigns Seq and never rewrites prior entries
//   - Messages returns a defensive copy to avoid external mutation
//   - Clone performs deep copies for safe divergence
type Thread struct {
	Key     ThreadKey
	Created time.Time
	Updated time.Time

	mu   sync.RWMutex
	msgs []Message
}

// NewThread creates an empty thread for the given key.
func NewThread(key ThreadKey) *Thread {
	now := time.Now()
	return &Thread{Key: key, Created: now, Updated: now}
}

// Append adds a message to the log, assigning its sequence number, and
// returns the stored copy.
func (t *Thread) Append(m Message) Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	m.Seq = len(t.msgs) + 1
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	t.msgs = append(t.msgs, m)
	t.Updated = time.Now()
	return m
}

// Messages returns a defensive copy of the full ordered log.
func (t *Thread) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of messages in the thread.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}

// Last returns the most recent message and true, or false on an empty thread.
func (t *Thread) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.msgs) == 0 {
		return Message{}, false
	}
	return t.msgs[len(t.msgs)-1], true
}

// Clone returns a deep copy of the thread safe for independent mutation.
func (t *Thread) Clone() *Thread {
	t.mu.RLock()
	defer t.mu.RUnlock()
	clone := &Thread{Key: t.Key, Created: t.Created, Updated: t.Updated, msgs: make([]Message, len(t.msgs))}
	copy(clone.msgs, t.msgs)
	return clone
}
