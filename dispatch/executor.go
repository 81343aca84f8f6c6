package dispatch

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agency/core"
	"github.com/hupe1980/agency/tool"
)

// parallelHint lets tools opt out of concurrent execution within one step.
// Tools that do not implement it are assumed parallel-safe.
type parallelHint interface {
	Parallel() bool
}

// toolOutcome pairs one requested call with its execution result.
type toolOutcome struct {
	call   core.ToolCall
	result any
	err    error
}

// executeTools runs the batch of tool calls from one completion step and
// records each outcome in the thread.
//
// Execution policy: delegation calls and tools marked sequential run one at a
// time, in request order, because they recurse through the dispatcher or
// carry ordering expectations. All other calls run concurrently. Outcomes are
// appended to the thread in the original request order regardless of which
// goroutine finished first, so thread logs stay deterministic.
func (d *Dispatcher) executeTools(
	rc *core.RunContext,
	agent *Agent,
	registry map[string]tool.Tool,
	key core.ThreadKey,
	caller string,
	calls []core.ToolCall,
) {
	outcomes := make([]toolOutcome, len(calls))

	var parallel []int
	var sequential []int
	for i, call := range calls {
		outcomes[i].call = call
		if isSequential(registry, call.Name) {
			sequential = append(sequential, i)
		} else {
			parallel = append(parallel, i)
		}
	}

	var wg sync.WaitGroup
	for _, idx := range parallel {
		if rc.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i].result, outcomes[i].err = d.executeOne(rc, agent, registry, calls[i])
		}(idx)
	}
	wg.Wait()

	for _, idx := range sequential {
		if err := rc.Err(); err != nil {
			outcomes[idx].err = err
			continue
		}
		outcomes[idx].result, outcomes[idx].err = d.executeOne(rc, agent, registry, calls[idx])
	}

	for _, outcome := range outcomes {
		d.recordOutcome(rc, agent, key, caller, outcome)
	}
}

// executeOne looks up and invokes a single tool with panic recovery. A
// panicking tool is converted into an execution error instead of taking the
// whole run down.
func (d *Dispatcher) executeOne(
	rc *core.RunContext,
	agent *Agent,
	registry map[string]tool.Tool,
	call core.ToolCall,
) (result any, err error) {
	impl, ok := registry[call.Name]
	if !ok {
		return nil, tool.NewToolError(call.Name, "tool not found", "EXECUTION_ERROR")
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if uerr := json.Unmarshal([]byte(call.Arguments), &args); uerr != nil {
			return nil, tool.NewToolError(call.Name, fmt.Sprintf("malformed arguments: %v", uerr), "VALIDATION_ERROR")
		}
	}

	defer func() {
		if r := recover(); r != nil {
			rc.LogError("dispatch.tool.panic",
				"agent", agent.Name,
				"tool", call.Name,
				"recover", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			result = nil
			err = tool.NewToolError(call.Name, fmt.Sprintf("panic: %v", r), "EXECUTION_ERROR")
		}
	}()

	start := time.Now()
	toolCtx := core.NewToolContext(rc, call.ID, agent.Name)
	result, err = impl.Call(toolCtx, args)

	rc.LogDebug("dispatch.tool.executed",
		"agent", agent.Name,
		"tool", call.Name,
		"call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	return result, err
}

// recordOutcome appends the tool outcome to the thread and mirrors it on the
// event stream. Failures become error messages correlated to the originating
// call so the model can see and recover from them on its next turn.
func (d *Dispatcher) recordOutcome(
	rc *core.RunContext,
	agent *Agent,
	key core.ThreadKey,
	caller string,
	outcome toolOutcome,
) {
	eventCaller := delegationCaller(caller)
	call := outcome.call

	if outcome.err != nil {
		code := core.CodeOf(outcome.err, core.CodeToolFailure)
		m := core.NewErrorMessage(agent.Name, caller, code, outcome.err.Error())
		m.ToolCallID = call.ID
		m.ToolName = call.Name
		if _, err := rc.Threads.Append(key, m); err != nil {
			rc.LogError("dispatch.tool.record", "thread", key.String(), "error", err.Error())
		}
		_ = rc.EmitEvent(core.NewEvent(core.EventRunError, rc.RunID, agent.Name).
			WithCaller(eventCaller).
			WithTool(call.Name, call.ID).
			WithContent(outcome.err.Error()).
			WithError(code))
		return
	}

	text := resultText(outcome.result)
	m := core.NewToolResultMessage(agent.Name, caller, call.ID, call.Name, text)
	if _, err := rc.Threads.Append(key, m); err != nil {
		rc.LogError("dispatch.tool.record", "thread", key.String(), "error", err.Error())
	}
	_ = rc.EmitEvent(core.NewEvent(core.EventToolResult, rc.RunID, agent.Name).
		WithCaller(eventCaller).
		WithTool(call.Name, call.ID).
		WithContent(text))
}

// isSequential reports whether a call must run outside the parallel batch.
// Delegations always do; other tools may opt out via the Parallel hint.
func isSequential(registry map[string]tool.Tool, name string) bool {
	if name == tool.SendMessageName {
		return true
	}
	impl, ok := registry[name]
	if !ok {
		return false
	}
	if hint, ok := impl.(parallelHint); ok {
		return !hint.Parallel()
	}
	return false
}

// resultText serializes a tool result for thread storage. Strings pass
// through; everything else is JSON encoded.
func resultText(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
