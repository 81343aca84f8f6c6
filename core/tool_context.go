package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agency/logging"
)

// ToolContext provides a constrained, auditable surface for tool
// implementations invoked during an agent's completion step. It exposes the
// shared run state, attachment helpers and identifiers without handing tools
// the full RunContext.
type ToolContext struct {
	runCtx    *RunContext
	callID    string
	agentName string

	*loggerAdapter
}

// NewToolContext constructs a tool context bound to a parent RunContext, the
// model-issued tool call id and the agent executing the call.
func NewToolContext(runCtx *RunContext, callID, agentName string) *ToolContext {
	return &ToolContext{
		runCtx:        runCtx,
		callID:        callID,
		agentName:     agentName,
		loggerAdapter: newLoggerAdapter(runCtx.Logger()),
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.runCtx.Context }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runCtx.RunID }

// ConversationID returns the conversation the invoking run belongs to.
func (tc *ToolContext) ConversationID() string { return tc.runCtx.ConversationID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.loggerAdapter.Logger() }

// CallID returns the tool call ID associated with the invocation. It
// correlates the model's request with the recorded tool result.
func (tc *ToolContext) CallID() string { return tc.callID }

// AgentName returns the name of the agent executing the tool call.
func (tc *ToolContext) AgentName() string { return tc.agentName }

// GetState retrieves a value from the run-scoped shared state.
func (tc *ToolContext) GetState(key string) (any, bool) {
	return tc.runCtx.Get(key)
}

// SetState writes a value to the run-scoped shared state, visible to every
// agent at any depth within the same run.
func (tc *ToolContext) SetState(key string, value any) {
	tc.runCtx.Set(key, value)
	tc.LogDebug("tool.state.set", "agent", tc.agentName, "key", key, "call_id", tc.callID)
}

// SaveAttachment stores attachment bytes scoped to the current conversation.
func (tc *ToolContext) SaveAttachment(id string, data []byte) error {
	if tc.runCtx.Attachments == nil {
		return fmt.Errorf("attachment store not configured")
	}
	return tc.runCtx.Attachments.Put(tc.ConversationID(), id, data)
}

// LoadAttachment retrieves attachment bytes by id.
func (tc *ToolContext) LoadAttachment(id string) ([]byte, error) {
	if tc.runCtx.Attachments == nil {
		return nil, fmt.Errorf("attachment store not configured")
	}
	return tc.runCtx.Attachments.Get(tc.ConversationID(), id)
}

// ListAttachments returns attachment IDs stored for the conversation.
func (tc *ToolContext) ListAttachments() ([]string, error) {
	if tc.runCtx.Attachments == nil {
		return nil, fmt.Errorf("attachment store not configured")
	}
	return tc.runCtx.Attachments.List(tc.ConversationID())
}
