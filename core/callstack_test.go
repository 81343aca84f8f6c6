package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallStackPushPop(t *testing.T) {
	s := NewCallStack(3)
	key := NewThreadKey("a", "b", "conv")

	f1, err := s.Push("user", "a", key, "call-1")
	require.NoError(t, err)
	assert.Equal(t, 0, f1.Depth)

	f2, err := s.Push("a", "b", key, "call-2")
	require.NoError(t, err)
	assert.Equal(t, 1, f2.Depth)
	assert.Equal(t, 2, s.Depth())

	top, ok := s.Top()
	require.True(t, ok)
	assert.Equal(t, "b", top.Callee)

	popped, ok := s.Pop()
	require.True(t, ok)
	assert.Equal(t, "call-2", popped.CallID)
	assert.Equal(t, 1, s.Depth())
}

func TestCallStackEnforcesDepthBound(t *testing.T) {
	s := NewCallStack(2)
	key := NewThreadKey("a", "b", "conv")

	_, err := s.Push("user", "a", key, "c1")
	require.NoError(t, err)
	_, err = s.Push("a", "b", key, "c2")
	require.NoError(t, err)

	_, err = s.Push("b", "a", key, "c3")
	require.Error(t, err)

	var limitErr *RecursionLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 2, limitErr.Max)

	// The failed push must not grow the stack.
	assert.Equal(t, 2, s.Depth())
}

func TestCallStackDefaultsMaxDepth(t *testing.T) {
	s := NewCallStack(0)
	assert.Equal(t, DefaultMaxDepth, s.Max())
}

func TestCallStackPopEmpty(t *testing.T) {
	s := NewCallStack(1)
	_, ok := s.Pop()
	assert.False(t, ok)
}
