// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing core objects (messages, run contexts, call
// stacks) and asserting behaviors. These helpers are intentionally minimal
// and are not intended for production usage.
package testutil

import (
	"context"

	"github.com/hupe1980/agency/core"
	"github.com/hupe1980/agency/thread"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	msg core.Message
}

// NewMessageBuilder creates a builder for a user message from the external caller.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{msg: core.NewUserMessage(core.ExternalSender, "agent", "")}
}

// Role sets the message role (chainable).
func (b *MessageBuilder) Role(r core.Role) *MessageBuilder { b.msg.Role = r; return b }

// From sets the sender (chainable).
func (b *MessageBuilder) From(s string) *MessageBuilder { b.msg.Sender = s; return b }

// To sets the receiver (chainable).
func (b *MessageBuilder) To(r string) *MessageBuilder { b.msg.Receiver = r; return b }

// Text sets the textual payload (chainable).
func (b *MessageBuilder) Text(t string) *MessageBuilder { b.msg.Text = t; return b }

// ToolCall appends a requested tool call and switches the role to agent (chainable).
func (b *MessageBuilder) ToolCall(id, name, args string) *MessageBuilder {
	b.msg.Role = core.RoleAgent
	b.msg.ToolCalls = append(b.msg.ToolCalls, core.ToolCall{ID: id, Name: name, Arguments: args})
	return b
}

// Build returns the constructed message.
func (b *MessageBuilder) Build() core.Message { return b.msg }

// RunFixture bundles the per-run plumbing dispatch tests need.
type RunFixture struct {
	RC      *core.RunContext
	Stack   *core.CallStack
	Threads *thread.Manager
	Events  chan core.Event
}

// NewRunFixture creates an isolated run context with an in-memory thread
// store, an optional buffered event channel and a call stack bounded at
// maxDepth (0 selects the default).
func NewRunFixture(ctx context.Context, conversationID string, maxDepth, eventBuffer int) *RunFixture {
	threads := thread.NewManager()
	var events chan core.Event
	var emit chan<- core.Event
	if eventBuffer > 0 {
		events = make(chan core.Event, eventBuffer)
		emit = events
	}
	rc := core.NewRunContext(ctx, core.NewID(), conversationID, nil, threads, nil, emit, nil)
	return &RunFixture{
		RC:      rc,
		Stack:   core.NewCallStack(maxDepth),
		Threads: threads,
		Events:  events,
	}
}

// DrainEvents closes nothing but collects whatever is currently buffered.
func (f *RunFixture) DrainEvents() []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-f.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
