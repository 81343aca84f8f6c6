package core

import (
	"sync"
	"time"
)

// CallFrame is one level of the in-flight delegation stack: who called whom,
// over which thread, starting when, at what depth. A fresh frame is pushed
// before invoking a callee and popped exactly once, on success or failure.
type CallFrame struct {
	Caller  string
	Callee  string
	Thread  ThreadKey
	CallID  string
	Depth   int
	Started time.Time
}

// CallStack tracks the synchronous delegation chain of one run and enforces
// the configured depth bound. Within one run calls are strictly sequential,
// but parallel tool execution inside a step may observe the stack, so access
// is guarded.
type CallStack struct {
	mu     sync.Mutex
	frames []CallFrame
	max    int
}

// DefaultMaxDepth bounds delegation chains when no explicit limit is set.
const DefaultMaxDepth = 10

// NewCallStack creates an empty stack with the given depth bound. A max of 0
// falls back to DefaultMaxDepth.
func NewCallStack(max int) *CallStack {
	if max <= 0 {
		max = DefaultMaxDepth
	}
	return &CallStack{max: max}
}

// Push appends a frame for caller invoking callee over the given thread. It
// fails with a RecursionLimitError when the stack is already at the bound,
// leaving the stack unchanged.
func (s *CallStack) Push(caller, callee string, thread ThreadKey, callID string) (CallFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth := len(s.frames)
	if depth >= s.max {
		return CallFrame{}, &RecursionLimitError{Depth: depth + 1, Max: s.max}
	}
	frame := CallFrame{
		Caller:  caller,
		Callee:  callee,
		Thread:  thread,
		CallID:  callID,
		Depth:   depth,
		Started: time.Now(),
	}
	s.frames = append(s.frames, frame)
	return frame, nil
}

// Pop removes and returns the top frame. The boolean is false on an empty
// stack, which indicates a push/pop parity bug in the caller.
func (s *CallStack) Pop() (CallFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return CallFrame{}, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top, true
}

// Depth returns the number of in-flight frames.
func (s *CallStack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Top returns the active frame without removing it.
func (s *CallStack) Top() (CallFrame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return CallFrame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Max returns the configured depth bound.
func (s *CallStack) Max() int { return s.max }
