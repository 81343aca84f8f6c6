package tool

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agency/core"
)

// SendMessageName is the reserved name of the delegation tool. User supplied
// tools must not collide with it.
const SendMessageName = "send_message"

// Delegator executes a synchronous delegation on behalf of the sending agent:
// it delivers the message to the recipient, drives the recipient's own
// completion loop (which may delegate further) and returns the recipient's
// final reply text. The dispatcher implements this per run so depth tracking
// and thread bookkeeping stay in one place.
type Delegator interface {
	Delegate(toolCtx *core.ToolContext, recipient, message string, attachments []string) (string, error)
}

// sendMessageTool is the per-agent delegation tool. Each agent receives its
// own instance scoped to the recipients its outgoing graph edges permit, so a
// model can never even express an unauthorized delegation.
type sendMessageTool struct {
	sender     string
	recipients []string
	delegator  Delegator
}

// NewSendMessageTool constructs the delegation tool for one sending agent.
// recipients must be the sender's permitted outgoing edges.
func NewSendMessageTool(sender string, recipients []string, delegator Delegator) Tool {
	return &sendMessageTool{
		sender:     sender,
		recipients: recipients,
		delegator:  delegator,
	}
}

func (t *sendMessageTool) Name() string { return SendMessageName }

func (t *sendMessageTool) Description() string {
	return fmt.Sprintf(
		"Send a message to another agent and wait for its reply. Permitted recipients: %s.",
		strings.Join(t.recipients, ", "),
	)
}

func (t *sendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"recipient": map[string]any{
				"type":        "string",
				"description": "Name of the agent to send the message to",
				"enum":        t.recipients,
			},
			"message": map[string]any{
				"type":        "string",
				"description": "The message to deliver",
			},
			"attachments": map[string]any{
				"type":        "array",
				"description": "Optional attachment IDs to reference in the message",
				"items":       map[string]any{"type": "string"},
			},
		},
		"required": []string{"recipient", "message"},
	}
}

// Call validates the arguments against the sender's permitted recipients and
// hands off to the Delegator. The returned value is the recipient's final
// reply text, which the dispatcher records as the tool result.
func (t *sendMessageTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	recipient, ok := args["recipient"].(string)
	if !ok || recipient == "" {
		return nil, NewToolError(SendMessageName, "field 'recipient' must be a non-empty string", "VALIDATION_ERROR")
	}
	message, ok := args["message"].(string)
	if !ok || message == "" {
		return nil, NewToolError(SendMessageName, "field 'message' must be a non-empty string", "VALIDATION_ERROR")
	}

	// Typed so the failure is recorded under the permission error code.
	if !t.allowed(recipient) {
		return nil, &core.PermissionError{Sender: t.sender, Recipient: recipient}
	}

	attachments, err := parseAttachments(args["attachments"])
	if err != nil {
		return nil, NewToolError(SendMessageName, err.Error(), "VALIDATION_ERROR")
	}

	reply, err := t.delegator.Delegate(tc, recipient, message, attachments)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (t *sendMessageTool) allowed(recipient string) bool {
	for _, r := range t.recipients {
		if r == recipient {
			return true
		}
	}
	return false
}

// parseAttachments normalizes the optional attachments argument, which JSON
// decoding delivers as []any.
func parseAttachments(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("attachment IDs must be strings, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field 'attachments' must be an array of strings, got %T", raw)
	}
}
