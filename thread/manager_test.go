package thread

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agency/core"
)

func TestManagerIsolatesPairs(t *testing.T) {
	m := NewManager()
	k1 := core.NewThreadKey("ceo", "dev", "conv")
	k2 := core.NewThreadKey("ceo", "qa", "conv")

	_, err := m.Append(k1, core.NewUserMessage("ceo", "dev", "to dev"))
	require.NoError(t, err)

	assert.Len(t, m.History(k1), 1)
	assert.Empty(t, m.History(k2))
}

func TestManagerGetOrCreateIsStable(t *testing.T) {
	m := NewManager()
	key := core.NewThreadKey("a", "b", "conv")
	assert.Same(t, m.GetOrCreate(key), m.GetOrCreate(key))
}

func TestManagerAppendAssignsSeq(t *testing.T) {
	m := NewManager()
	key := core.NewThreadKey("a", "b", "conv")

	first, err := m.Append(key, core.NewUserMessage("a", "b", "one"))
	require.NoError(t, err)
	second, err := m.Append(key, core.NewAgentMessage("b", "a", "two", nil))
	require.NoError(t, err)

	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
}

func TestManagerConcurrentAppends(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := core.NewThreadKey("a", fmt.Sprintf("agent-%d", n%4), "conv")
			for j := 0; j < 10; j++ {
				_, err := m.Append(key, core.NewUserMessage("a", "b", "msg"))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, msgs := range m.Snapshot() {
		total += len(msgs)
		for i, msg := range msgs {
			assert.Equal(t, i+1, msg.Seq, "sequence numbers stay dense under concurrency")
		}
	}
	assert.Equal(t, 160, total)
}

func TestManagerSnapshotRestoreRoundtrip(t *testing.T) {
	m := NewManager()
	key := core.NewThreadKey("ceo", "dev", "conv")
	_, err := m.Append(key, core.NewUserMessage("ceo", "dev", "hello"))
	require.NoError(t, err)
	_, err = m.Append(key, core.NewAgentMessage("dev", "ceo", "hi", nil))
	require.NoError(t, err)

	snapshot := m.Snapshot()

	restored := NewManager()
	require.NoError(t, restored.Restore(snapshot))

	history := restored.History(key)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, "hi", history[1].Text)
	assert.Equal(t, 1, history[0].Seq)
	assert.Equal(t, 2, history[1].Seq)
}

func TestManagerRestoreRejectsMalformedKey(t *testing.T) {
	m := NewManager()
	key := core.NewThreadKey("a", "b", "conv")
	_, err := m.Append(key, core.NewUserMessage("a", "b", "keep me"))
	require.NoError(t, err)

	err = m.Restore(map[string][]core.Message{"garbage": nil})
	require.Error(t, err)

	// A failed restore must not partially replace existing state.
	assert.Len(t, m.History(key), 1)
}

func TestManagerTruncation(t *testing.T) {
	m := NewManager(func(o *Options) {
		o.Truncation = KeepLast{N: 2}
	})
	key := core.NewThreadKey("a", "b", "conv")
	for i := 1; i <= 5; i++ {
		_, err := m.Append(key, core.NewUserMessage("a", "b", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	history := m.History(key)
	require.Len(t, history, 3)
	assert.Equal(t, "m1", history[0].Text, "thread opener is kept")
	assert.Equal(t, "m4", history[1].Text)
	assert.Equal(t, "m5", history[2].Text)

	// The stored log itself is untouched.
	assert.Equal(t, 5, m.Len(key))
}

func TestKeepLastShortThread(t *testing.T) {
	s := KeepLast{N: 10}
	msgs := []core.Message{core.NewUserMessage("a", "b", "only")}
	assert.Len(t, s.Truncate(msgs), 1)
}
