package core

import "time"

// EventType categorizes streaming events emitted during a run.
type EventType string

const (
	// EventMessageDelta is a partial text fragment from a streaming
	// completion. Deltas are never persisted to threads.
	EventMessageDelta EventType = "message_delta"
	// EventAgentMessage is a complete agent output appended to a thread.
	EventAgentMessage EventType = "agent_message"
	// EventToolCall records an agent requesting a tool execution.
	EventToolCall EventType = "tool_call"
	// EventToolResult records a completed tool execution.
	EventToolResult EventType = "tool_result"
	// EventDelegationStart marks an agent invoking another agent via
	// send-message; Caller identifies the delegating agent.
	EventDelegationStart EventType = "delegation_start"
	// EventDelegationEnd marks the delegate's sub-call resolving.
	EventDelegationEnd EventType = "delegation_end"
	// EventRunError records a typed failure caught at a frame boundary.
	EventRunError EventType = "error"
	// EventFinal carries the run's final result text.
	EventFinal EventType = "final"
)

// Event is one record in the lazy, finite event sequence produced by a
// streaming run. Agent is always the acting agent; Caller is set when the
// event happened inside a delegation so a consumer can reconstruct the call
// tree shape in real time. CallID correlates tool call/result pairs and
// delegation start/end pairs.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Agent     string    `json:"agent"`
	Caller    string    `json:"caller,omitempty"`
	Content   string    `json:"content,omitempty"`
	ToolName  string    `json:"tool_name,omitempty"`
	CallID    string    `json:"call_id,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a bare event of the given type acting as agent within run.
func NewEvent(typ EventType, runID, agent string) Event {
	return Event{
		ID:        NewID(),
		Type:      typ,
		RunID:     runID,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
	}
}

// WithCaller tags the event with the delegating agent.
func (e Event) WithCaller(caller string) Event {
	e.Caller = caller
	return e
}

// WithContent sets the textual payload.
func (e Event) WithContent(content string) Event {
	e.Content = content
	return e
}

// WithTool sets tool correlation metadata.
func (e Event) WithTool(name, callID string) Event {
	e.ToolName = name
	e.CallID = callID
	return e
}

// WithError sets the failure classification code.
func (e Event) WithError(code string) Event {
	e.ErrorCode = code
	return e
}
