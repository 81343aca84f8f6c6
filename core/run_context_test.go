package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunContext(emit chan<- Event) *RunContext {
	return NewRunContext(context.Background(), NewID(), "conv", nil, nil, nil, emit, nil)
}

func TestRunContextStateRoundtrip(t *testing.T) {
	rc := newTestRunContext(nil)

	_, ok := rc.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, "fallback", rc.GetDefault("missing", "fallback"))

	rc.Set("budget", 10)
	v, ok := rc.Get("budget")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	rc.Delete("budget")
	_, ok = rc.Get("budget")
	assert.False(t, ok)
}

func TestRunContextStateIsolationAcrossRuns(t *testing.T) {
	rc1 := newTestRunContext(nil)
	rc2 := newTestRunContext(nil)

	rc1.Set("key", "one")
	rc2.Set("key", "two")

	assert.Equal(t, "one", rc1.GetDefault("key", ""))
	assert.Equal(t, "two", rc2.GetDefault("key", ""))
}

func TestRunContextConcurrentState(t *testing.T) {
	rc := newTestRunContext(nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rc.Set("shared", n)
			rc.Get("shared")
		}(i)
	}
	wg.Wait()

	_, ok := rc.Get("shared")
	assert.True(t, ok)
}

func TestRunContextSnapshotRestore(t *testing.T) {
	rc := newTestRunContext(nil)
	rc.Set("a", 1)

	snap := rc.SnapshotState()
	snap["a"] = 99 // snapshot must be a copy

	assert.Equal(t, 1, rc.GetDefault("a", 0))

	rc.RestoreState(map[string]any{"b": "restored"})
	assert.Equal(t, 1, rc.GetDefault("a", 0))
	assert.Equal(t, "restored", rc.GetDefault("b", ""))
}

func TestRunContextEmitEvent(t *testing.T) {
	events := make(chan Event, 1)
	rc := newTestRunContext(events)

	err := rc.EmitEvent(NewEvent(EventAgentMessage, "", "ceo"))
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, rc.RunID, ev.RunID, "run id backfilled on emit")
	assert.Equal(t, "ceo", ev.Agent)
}

func TestRunContextEmitEventNilChannel(t *testing.T) {
	rc := newTestRunContext(nil)
	assert.NoError(t, rc.EmitEvent(NewEvent(EventAgentMessage, "", "ceo")))
}

func TestRunContextEmitEventCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan Event) // unbuffered, would block
	rc := NewRunContext(ctx, NewID(), "conv", nil, nil, nil, events, nil)

	err := rc.EmitEvent(NewEvent(EventAgentMessage, "", "ceo"))
	assert.ErrorIs(t, err, context.Canceled)
}
