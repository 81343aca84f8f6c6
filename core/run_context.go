package core

import (
	"context"
	"maps"
	"sync"

	"github.com/hupe1980/agency/logging"
)

// RunContext carries the shared mutable state for one top-level request. It
// aggregates:
//
//   - The ambient cancellation Context
//   - Identifiers (RunID, ConversationID)
//   - A key/value store shared by reference across the whole call tree, so
//     sibling and nested agents observe each other's side effects
//   - Read-only references to the agent registry, thread store and
//     attachment store
//   - The event emission channel for streaming consumers
//
// The context is never forked: every recursive call receives the same
// instance. It must never be reused across two top-level requests; each run
// owns its own RunContext, which is how concurrent runs stay isolated.
// Within one run calls are strictly sequential, but declared-parallel tool
// execution inside a single step may touch state concurrently, so the store
// is guarded.
type RunContext struct {
	Context        context.Context
	RunID          string
	ConversationID string
	Agents         map[string]AgentInfo
	Threads        ThreadStore
	Attachments    AttachmentStore
	Emit           chan<- Event

	mu    sync.RWMutex
	state map[string]any

	*loggerAdapter
}

// NewRunContext constructs a RunContext with empty shared state.
func NewRunContext(
	ctx context.Context,
	runID, conversationID string,
	agents map[string]AgentInfo,
	threads ThreadStore,
	attachments AttachmentStore,
	emit chan<- Event,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:        ctx,
		RunID:          runID,
		ConversationID: conversationID,
		Agents:         agents,
		Threads:        threads,
		Attachments:    attachments,
		Emit:           emit,
		state:          map[string]any{},
		loggerAdapter:  newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// Get returns the value for key and whether it was set.
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.state[key]
	return v, ok
}

// GetDefault returns the value for key or def when unset.
func (rc *RunContext) GetDefault(key string, def any) any {
	if v, ok := rc.Get(key); ok {
		return v
	}
	return def
}

// Set stores a key/value pair visible to all agents at any recursion depth
// within this run.
func (rc *RunContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.state[key] = value
}

// Delete removes a key from the shared state.
func (rc *RunContext) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.state, key)
}

// SnapshotState returns a copy of the shared state for the persistence hooks.
func (rc *RunContext) SnapshotState() map[string]any {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	out := make(map[string]any, len(rc.state))
	maps.Copy(out, rc.state)
	return out
}

// RestoreState merges a persisted state snapshot into the shared store.
// Existing keys are overwritten; it is safe to call with partial data.
func (rc *RunContext) RestoreState(state map[string]any) {
	if len(state) == 0 {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	maps.Copy(rc.state, state)
}

// AgentExists reports whether name is a registered agent.
func (rc *RunContext) AgentExists(name string) bool {
	_, ok := rc.Agents[name]
	return ok
}

// EmitEvent sends an event to the streaming consumer, honoring cancellation.
// A nil Emit channel makes it a no-op so synchronous runs can share the same
// code path.
func (rc *RunContext) EmitEvent(ev Event) error {
	if rc.Emit == nil {
		return nil
	}
	if ev.RunID == "" {
		ev.RunID = rc.RunID
	}
	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
		return nil
	}
}
