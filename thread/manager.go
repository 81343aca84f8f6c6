package thread

import (
	"sync"

	"github.com/hupe1980/agency/core"
)

// Options configures a Manager.
type Options struct {
	// Truncation is applied when reading History for completion requests.
	// The stored log is never truncated. Defaults to NoTruncation.
	Truncation Strategy
}

// Manager is a volatile core.ThreadStore storing threads in a process-local
// map. Each thread key owns its own lock, so appends against different pairs
// never serialize against each other. Best suited as the working store of a
// live agency; durability comes from Snapshot/Restore via the persistence
// hooks.
type Manager struct {
	mu         sync.RWMutex
	threads    map[core.ThreadKey]*core.Thread
	truncation Strategy
}

// NewManager constructs an empty in-memory thread manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{Truncation: NoTruncation{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		threads:    make(map[core.ThreadKey]*core.Thread),
		truncation: opts.Truncation,
	}
}

// GetOrCreate returns the thread for key, lazily creating it on first use.
func (m *Manager) GetOrCreate(key core.ThreadKey) *core.Thread {
	m.mu.RLock()
	t, ok := m.threads[key]
	m.mu.RUnlock()
	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.threads[key]; ok {
		return t
	}
	t = core.NewThread(key)
	m.threads[key] = t
	return t
}

// Append appends msg to the thread for key and returns the stored copy with
// its assigned sequence number. Serialization is per thread (core.Thread
// holds its own lock), so concurrent runs touching different pairs do not
// contend.
func (m *Manager) Append(key core.ThreadKey, msg core.Message) (core.Message, error) {
	return m.GetOrCreate(key).Append(msg), nil
}

// History returns the ordered message list for key after applying the
// configured truncation strategy. Returns nil for an unknown key.
func (m *Manager) History(key core.ThreadKey) []core.Message {
	m.mu.RLock()
	t, ok := m.threads[key]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.truncation.Truncate(t.Messages())
}

// Len reports the number of messages stored for key.
func (m *Manager) Len(key core.ThreadKey) int {
	m.mu.RLock()
	t, ok := m.threads[key]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return t.Len()
}

// Snapshot returns a deep copy of every thread's ordered log keyed by
// ThreadKey.String().
func (m *Manager) Snapshot() map[string][]core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]core.Message, len(m.threads))
	for key, t := range m.threads {
		out[key.String()] = t.Messages()
	}
	return out
}

// Restore rehydrates the manager from a snapshot, replacing current
// contents. Malformed keys fail the restore before any state is replaced so
// a corrupted snapshot cannot partially merge.
func (m *Manager) Restore(snapshot map[string][]core.Message) error {
	restored := make(map[core.ThreadKey]*core.Thread, len(snapshot))
	for rawKey, msgs := range snapshot {
		key, err := core.ParseThreadKey(rawKey)
		if err != nil {
			return err
		}
		t := core.NewThread(key)
		for _, msg := range msgs {
			t.Append(msg)
		}
		restored[key] = t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads = restored
	return nil
}

var _ core.ThreadStore = (*Manager)(nil)
