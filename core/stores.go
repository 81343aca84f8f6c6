package core

// ThreadStore persists the per-pair conversation logs for one agency. Two
// different pair keys never share storage; Append is append-only so a crash
// mid-append leaves the prior state recoverable. Implementations must be safe
// for concurrent access from independent runs (per-thread-key serialization
// is sufficient; global locking would defeat run concurrency).
//
// Permission checks do NOT happen here: the dispatcher verifies the
// communication graph before any append reaches the store.
type ThreadStore interface {
	// GetOrCreate returns the thread for key, lazily creating it on first use.
	GetOrCreate(key ThreadKey) *Thread

	// Append appends msg to the thread for key, assigning its sequence
	// number, and returns the stored copy.
	Append(key ThreadKey, msg Message) (Message, error)

	// History returns the ordered message list used to build completion
	// requests, after any configured truncation strategy has been applied.
	History(key ThreadKey) []Message

	// Snapshot returns a deep copy of every thread's ordered message list,
	// keyed by ThreadKey.String(), for the persistence hooks.
	Snapshot() map[string][]Message

	// Restore rehydrates the store from a snapshot, replacing current
	// contents. Safe to call with partial data.
	Restore(map[string][]Message) error
}

// AttachmentStore resolves attachment references passed through send-message
// calls. Attachments are scoped by conversation id so independent
// conversations never observe each other's payloads.
type AttachmentStore interface {
	Put(conversationID, id string, data []byte) error
	Get(conversationID, id string) ([]byte, error)
	List(conversationID string) ([]string, error)
	Delete(conversationID, id string) error
}

// Snapshot is the unit exchanged with the persistence hooks: every thread's
// ordered log plus the run-context key/value state.
type Snapshot struct {
	Threads map[string][]Message `json:"threads"`
	State   map[string]any       `json:"state"`
}

// LoadHook rehydrates thread and run-context state before a run begins.
// It must be idempotent and safe to call with partial data.
type LoadHook func() (Snapshot, error)

// SaveHook persists the full snapshot after a run completes (success or
// failure). Errors are logged by the caller, never surfaced to the run.
type SaveHook func(Snapshot) error

// AgentInfo carries identifying details about an agent for read-only registry
// access from RunContext and for event tagging.
type AgentInfo struct {
	Name        string
	Description string
}
