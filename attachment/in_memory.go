// Package attachment contains concrete implementations of the
// core.AttachmentStore.
//
// The canonical AttachmentStore interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation packages
// like this one provide storage backends that can be swapped without touching
// calling code.
package attachment

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when an attachment does not exist.
var ErrNotFound = errors.New("attachment not found")

// InMemoryStore is a trivial in-process AttachmentStore implementation useful
// for tests, examples and single-process prototypes. It keeps all attachments
// in a nested map guarded by an RWMutex. Data is copied on put / retrieval to
// avoid accidental external mutation of internal buffers.
//
// Layout: conversationID -> attachmentID -> raw bytes
//
// This implementation is intentionally minimal; it does not enforce retention
// limits, size quotas, or eviction. For anything that must survive process
// restarts, prefer a durable implementation.
type InMemoryStore struct {
	mu          sync.RWMutex
	attachments map[string]map[string][]byte // conversationID -> attachmentID -> data
}

// NewInMemoryStore returns an empty in-memory attachment store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{attachments: make(map[string]map[string][]byte)}
}

// Put stores (or overwrites) the attachment bytes for the given conversation
// and id. The input slice is copied before storage.
func (s *InMemoryStore) Put(conversationID, attachmentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attachments[conversationID]; !exists {
		s.attachments[conversationID] = make(map[string][]byte)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.attachments[conversationID][attachmentID] = cp
	return nil
}

// Get returns a copy of the stored attachment bytes or ErrNotFound.
func (s *InMemoryStore) Get(conversationID, attachmentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.attachments[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := m[attachmentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the attachment ids stored for the conversation, sorted for
// deterministic iteration. The slice is a snapshot and safe for caller
// mutation.
func (s *InMemoryStore) List(conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.attachments[conversationID]
	if !ok {
		return []string{}, nil
	}
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the attachment if present or returns ErrNotFound.
func (s *InMemoryStore) Delete(conversationID, attachmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.attachments[conversationID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[attachmentID]; !ok {
		return ErrNotFound
	}
	delete(m, attachmentID)
	return nil
}
