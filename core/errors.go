package core

import (
	"context"
	"errors"
	"fmt"
)

// Error codes recorded on RoleError messages and surfaced in failure events.
const (
	CodeGraphConfig       = "graph_config"
	CodePermission        = "permission_denied"
	CodeRecursionLimit    = "recursion_limit"
	CodeCompletionFailure = "completion_failure"
	CodeToolFailure       = "tool_failure"
	CodePersistence       = "persistence"
	CodeCancelled         = "cancelled"
)

// GraphConfigError is fatal and construction-time only: it is surfaced to the
// operator building the agency, never to a live run.
type GraphConfigError struct {
	Reason string
}

func (e *GraphConfigError) Error() string {
	return fmt.Sprintf("communication graph config: %s", e.Reason)
}

// PermissionError reports a sender attempting to initiate a conversation the
// graph does not permit. It is recoverable by the calling agent, which may
// explain to the user or pick a different recipient.
type PermissionError struct {
	Sender    string
	Recipient string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("agent %q is not permitted to initiate a conversation with %q", e.Sender, e.Recipient)
}

// RecursionLimitError bounds runaway delegation chains and cycles the static
// graph cannot eliminate (e.g. mutual reply edges). It is returned as a
// failure result up the call stack, not a process crash.
type RecursionLimitError struct {
	Depth int
	Max   int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("delegation depth %d exceeds configured maximum %d", e.Depth, e.Max)
}

// CompletionFailure wraps an exhausted completion collaborator call: the
// external model call errored or returned malformed output on every attempt
// within the retry bound.
type CompletionFailure struct {
	Agent    string
	Attempts int
	Err      error
}

func (e *CompletionFailure) Error() string {
	return fmt.Sprintf("completion for agent %q failed after %d attempts: %v", e.Agent, e.Attempts, e.Err)
}

func (e *CompletionFailure) Unwrap() error { return e.Err }

// PersistenceError wraps a load/save hook failure. Durability loss must never
// abort an otherwise-successful run, so callers log it and continue.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CodeOf maps a typed failure to its message/event error code, unwrapping as
// needed. Unknown errors map to the given fallback (CodeToolFailure at tool
// boundaries, CodeCompletionFailure at completion boundaries).
func CodeOf(err error, fallback string) string {
	var (
		graphErr      *GraphConfigError
		permErr       *PermissionError
		recursionErr  *RecursionLimitError
		completionErr *CompletionFailure
		persistErr    *PersistenceError
	)
	switch {
	case errors.As(err, &graphErr):
		return CodeGraphConfig
	case errors.As(err, &permErr):
		return CodePermission
	case errors.As(err, &recursionErr):
		return CodeRecursionLimit
	case errors.As(err, &completionErr):
		return CodeCompletionFailure
	case errors.As(err, &persistErr):
		return CodePersistence
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return fallback
	}
}
