package core

import (
	"time"

	"github.com/google/uuid"
)

// Role categorizes who produced a message within a thread.
type Role string

const (
	// RoleUser marks a message that opens or continues a request towards an
	// agent. The sender is either the external caller or a delegating agent.
	RoleUser Role = "user"
	// RoleAgent marks an agent's own output (final text or tool requests).
	RoleAgent Role = "agent"
	// RoleTool marks the recorded result of a tool invocation.
	RoleTool Role = "tool"
	// RoleError marks a structured failure record appended at a frame
	// boundary (completion failure, tool failure, cancellation).
	RoleError Role = "error"
)

// ExternalSender is the sentinel sender id used when the message originates
// from the external caller rather than another agent.
const ExternalSender = "user"

// ToolCall describes a tool invocation requested by an agent. Arguments is
// the serialized JSON payload produced by the completion provider.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry in a Thread. After being appended it should be
// treated as immutable. Seq establishes total order within its thread and is
// assigned on append.
type Message struct {
	ID          string     `json:"id"`
	Role        Role       `json:"role"`
	Sender      string     `json:"sender"`
	Receiver    string     `json:"receiver"`
	Text        string     `json:"text,omitempty"`
	ToolCalls   []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	ToolName    string     `json:"tool_name,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Seq         int        `json:"seq"`
	Timestamp   time.Time  `json:"timestamp"`
}

// NewID generates a new unique identifier for messages, runs and call frames.
func NewID() string { return uuid.NewString() }

func newMessage(role Role, sender, receiver string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Sender:    sender,
		Receiver:  receiver,
		Timestamp: time.Now().UTC(),
	}
}

// NewUserMessage creates the message that opens or continues a request from
// sender to receiver. Sender may be ExternalSender.
func NewUserMessage(sender, receiver, text string) Message {
	m := newMessage(RoleUser, sender, receiver)
	m.Text = text
	return m
}

// NewAgentMessage creates an agent-authored output message, optionally
// carrying the tool calls the agent requested in the same turn.
func NewAgentMessage(sender, receiver, text string, toolCalls []ToolCall) Message {
	m := newMessage(RoleAgent, sender, receiver)
	m.Text = text
	m.ToolCalls = toolCalls
	return m
}

// NewToolResultMessage records the outcome of a tool invocation, correlated
// to the originating call by callID.
func NewToolResultMessage(sender, receiver, callID, toolName, result string) Message {
	m := newMessage(RoleTool, sender, receiver)
	m.ToolCallID = callID
	m.ToolName = toolName
	m.Text = result
	return m
}

// NewErrorMessage records a structured failure at a frame boundary. The code
// identifies the failure class (see the error taxonomy in errors.go).
func NewErrorMessage(sender, receiver, code, text string) Message {
	m := newMessage(RoleError, sender, receiver)
	m.ErrorCode = code
	m.Text = text
	return m
}

// IsConversational reports whether the message belongs in the history handed
// to a completion provider (error records are included so the model can see
// and recover from prior failures; they map to tool/assistant content at the
// provider boundary).
func (m Message) IsConversational() bool {
	switch m.Role {
	case RoleUser, RoleAgent, RoleTool, RoleError:
		return true
	default:
		return false
	}
}
