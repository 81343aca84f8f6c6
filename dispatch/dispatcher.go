package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/agency/core"
	"github.com/hupe1980/agency/graph"
	"github.com/hupe1980/agency/internal/util"
	"github.com/hupe1980/agency/model"
	"github.com/hupe1980/agency/tool"
)

const (
	// DefaultMaxToolTurns bounds the completion/tool loop of one invocation.
	DefaultMaxToolTurns = 8
	// DefaultCompletionRetries bounds attempts against a failing model.
	DefaultCompletionRetries = 3
)

// Options configure dispatcher behavior shared by all runs.
type Options struct {
	// MaxToolTurns limits how many completion/tool rounds one invocation may
	// take before it is failed. <=0 selects DefaultMaxToolTurns.
	MaxToolTurns int

	// CompletionRetries limits attempts per completion step. <=0 selects
	// DefaultCompletionRetries.
	CompletionRetries int

	// Stream requests partial text deltas from models that support them.
	Stream bool
}

// Result is the outcome of a successful invocation: the callee's final reply
// and where it was recorded.
type Result struct {
	Text    string
	Thread  core.ThreadKey
	Message core.Message
}

// Dispatcher routes messages between agents. It holds only immutable
// configuration (agent registry, graph, options) and is safe for concurrent
// use by independent runs.
type Dispatcher struct {
	agents map[string]*Agent
	graph  *graph.Graph
	opts   Options
}

// New validates the agent set and builds a dispatcher over the given graph.
func New(agents []*Agent, g *graph.Graph, optFns ...func(o *Options)) (*Dispatcher, error) {
	opts := Options{
		MaxToolTurns:      DefaultMaxToolTurns,
		CompletionRetries: DefaultCompletionRetries,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxToolTurns <= 0 {
		opts.MaxToolTurns = DefaultMaxToolTurns
	}
	if opts.CompletionRetries <= 0 {
		opts.CompletionRetries = DefaultCompletionRetries
	}

	registry := make(map[string]*Agent, len(agents))
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := registry[a.Name]; dup {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("duplicate agent name %q", a.Name)}
		}
		if !g.HasAgent(a.Name) {
			return nil, &core.GraphConfigError{Reason: fmt.Sprintf("agent %q missing from communication graph", a.Name)}
		}
		registry[a.Name] = a
	}

	return &Dispatcher{agents: registry, graph: g, opts: opts}, nil
}

// Infos returns the read-only agent registry handed to run contexts.
func (d *Dispatcher) Infos() map[string]core.AgentInfo {
	out := make(map[string]core.AgentInfo, len(d.agents))
	for name, a := range d.agents {
		out[name] = a.Info()
	}
	return out
}

// Call delivers a message from caller to callee and drives the callee to its
// final reply. It is the single entry for both external requests (caller ==
// core.ExternalSender) and agent-to-agent delegation, and recurses through
// the delegation tool for nested calls.
//
// The request and every completion-loop message of the callee are recorded in
// the caller/callee pair thread; nested delegation threads receive only their
// own request/reply pairs.
func (d *Dispatcher) Call(
	rc *core.RunContext,
	stack *core.CallStack,
	caller, callee, text string,
	attachments []string,
	callID string,
) (Result, error) {
	agent, ok := d.agents[callee]
	if !ok {
		return Result{}, &core.PermissionError{Sender: caller, Recipient: callee}
	}
	if caller == core.ExternalSender {
		if !d.graph.IsEntryPoint(callee) {
			return Result{}, &core.PermissionError{Sender: caller, Recipient: callee}
		}
	} else if !d.graph.CanInitiate(caller, callee) {
		return Result{}, &core.PermissionError{Sender: caller, Recipient: callee}
	}

	key := core.NewThreadKey(caller, callee, rc.ConversationID)
	if callID == "" {
		callID = core.NewID()
	}

	frame, err := stack.Push(caller, callee, key, callID)
	if err != nil {
		rc.LogWarn("dispatch.depth_exceeded", "caller", caller, "callee", callee, "max", stack.Max())
		return Result{}, err
	}
	defer stack.Pop()

	req := core.NewUserMessage(caller, callee, text)
	req.Attachments = attachments
	if _, err := rc.Threads.Append(key, req); err != nil {
		return Result{}, err
	}

	rc.LogDebug("dispatch.call", "caller", caller, "callee", callee, "thread", key.String(), "depth", frame.Depth)

	return d.runLoop(rc, stack, agent, key, caller)
}

// runLoop drives one invoked agent through completion and tool rounds until
// it produces a plain text reply or a bound is hit.
func (d *Dispatcher) runLoop(
	rc *core.RunContext,
	stack *core.CallStack,
	agent *Agent,
	key core.ThreadKey,
	caller string,
) (Result, error) {
	registry := d.toolRegistry(agent, rc, stack)
	defs := toolDefinitions(registry)
	eventCaller := delegationCaller(caller)

	for turn := 0; turn < d.opts.MaxToolTurns; turn++ {
		if err := rc.Err(); err != nil {
			d.recordFailure(rc, key, agent.Name, caller, core.CodeCancelled, "run cancelled", "")
			return Result{}, err
		}

		resp, err := d.complete(rc, agent, key, caller, defs)
		if err != nil {
			return Result{}, err
		}

		if len(resp.ToolCalls) == 0 {
			reply := core.NewAgentMessage(agent.Name, caller, resp.Text, nil)
			stored, err := rc.Threads.Append(key, reply)
			if err != nil {
				return Result{}, err
			}
			_ = rc.EmitEvent(core.NewEvent(core.EventAgentMessage, rc.RunID, agent.Name).
				WithCaller(eventCaller).
				WithContent(resp.Text))
			return Result{Text: resp.Text, Thread: key, Message: stored}, nil
		}

		request := core.NewAgentMessage(agent.Name, caller, resp.Text, resp.ToolCalls)
		if _, err := rc.Threads.Append(key, request); err != nil {
			return Result{}, err
		}
		for _, call := range resp.ToolCalls {
			_ = rc.EmitEvent(core.NewEvent(core.EventToolCall, rc.RunID, agent.Name).
				WithCaller(eventCaller).
				WithTool(call.Name, call.ID).
				WithContent(call.Arguments))
		}

		d.executeTools(rc, agent, registry, key, caller, resp.ToolCalls)
	}

	msg := fmt.Sprintf("agent %q exceeded %d tool turns without a final reply", agent.Name, d.opts.MaxToolTurns)
	d.recordFailure(rc, key, agent.Name, caller, core.CodeToolFailure, msg, "")
	return Result{}, fmt.Errorf("%s", msg)
}

// complete performs one completion step with bounded retries. Every failed
// attempt leaves an error record in the thread for audit and is mirrored on
// the event stream; an exhausted step appends a final summary record on top.
func (d *Dispatcher) complete(
	rc *core.RunContext,
	agent *Agent,
	key core.ThreadKey,
	caller string,
	defs []model.ToolDefinition,
) (model.Response, error) {
	eventCaller := delegationCaller(caller)

	var lastErr error
	for attempt := 1; attempt <= d.opts.CompletionRetries; attempt++ {
		if err := rc.Err(); err != nil {
			d.recordFailure(rc, key, agent.Name, caller, core.CodeCancelled, "run cancelled", "")
			return model.Response{}, err
		}

		instructions, err := util.RenderTemplate(agent.Instruction, rc.SnapshotState())
		if err != nil {
			rc.LogWarn("dispatch.instruction.render_failed", "agent", agent.Name, "error", err.Error())
			instructions = agent.Instruction
		}

		req := model.Request{
			Instructions: instructions,
			Messages:     rc.Threads.History(key),
			Tools:        defs,
			Stream:       d.opts.Stream,
		}

		start := time.Now()
		resp, err := d.generate(rc, agent, req, eventCaller)
		if err == nil {
			rc.LogDebug("dispatch.completion", "agent", agent.Name, "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())
			return resp, nil
		}
		lastErr = err

		rc.LogWarn("dispatch.completion.failed",
			"agent", agent.Name,
			"attempt", attempt,
			"max_attempts", d.opts.CompletionRetries,
			"error", err.Error(),
		)
		d.recordFailure(rc, key, agent.Name, caller, core.CodeCompletionFailure,
			fmt.Sprintf("completion attempt %d of %d failed: %v", attempt, d.opts.CompletionRetries, err), "")
	}

	failure := &core.CompletionFailure{
		Agent:    agent.Name,
		Attempts: d.opts.CompletionRetries,
		Err:      lastErr,
	}
	d.recordFailure(rc, key, agent.Name, caller, core.CodeCompletionFailure, failure.Error(), "")
	return model.Response{}, failure
}

// generate runs one model call, forwarding partial deltas to the event stream
// and returning the final response.
func (d *Dispatcher) generate(
	rc *core.RunContext,
	agent *Agent,
	req model.Request,
	eventCaller string,
) (model.Response, error) {
	respCh, errCh := agent.Model.Generate(rc.Context, req)

	var final *model.Response
	for resp := range respCh {
		if resp.Partial {
			_ = rc.EmitEvent(core.NewEvent(core.EventMessageDelta, rc.RunID, agent.Name).
				WithCaller(eventCaller).
				WithContent(resp.Text))
			continue
		}
		r := resp
		final = &r
	}
	if err := <-errCh; err != nil {
		return model.Response{}, err
	}
	if final == nil {
		return model.Response{}, fmt.Errorf("model %q produced no final response", agent.Model.Info().Name)
	}
	return *final, nil
}

// recordFailure appends a structured error message to the thread and mirrors
// it on the event stream. Append failures here are logged only; the original
// failure is what the caller needs to see.
func (d *Dispatcher) recordFailure(rc *core.RunContext, key core.ThreadKey, agent, caller, code, text, callID string) {
	m := core.NewErrorMessage(agent, caller, code, text)
	m.ToolCallID = callID
	if _, err := rc.Threads.Append(key, m); err != nil {
		rc.LogError("dispatch.failure_record", "thread", key.String(), "error", err.Error())
	}
	_ = rc.EmitEvent(core.NewEvent(core.EventRunError, rc.RunID, agent).
		WithCaller(delegationCaller(caller)).
		WithContent(text).
		WithError(code))
}

// toolRegistry assembles the callee's effective tool set for this run: its
// registered tools plus a delegation tool scoped to its outgoing graph edges.
// Agents without outgoing edges receive no delegation tool at all.
func (d *Dispatcher) toolRegistry(agent *Agent, rc *core.RunContext, stack *core.CallStack) map[string]tool.Tool {
	registry := make(map[string]tool.Tool, len(agent.Tools)+1)
	for _, t := range agent.Tools {
		registry[t.Name()] = t
	}
	if recipients := d.graph.Outgoing(agent.Name); len(recipients) > 0 {
		registry[tool.SendMessageName] = tool.NewSendMessageTool(
			agent.Name,
			recipients,
			&runDelegator{dispatcher: d, rc: rc, stack: stack},
		)
	}
	return registry
}

// toolDefinitions converts a tool registry to the declarations handed to the
// model, sorted by name so request payloads are deterministic.
func toolDefinitions(registry map[string]tool.Tool) []model.ToolDefinition {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := registry[name]
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// delegationCaller maps the sender to the event caller tag: events inside a
// delegation carry the delegating agent, top-level events carry none.
func delegationCaller(caller string) string {
	if caller == core.ExternalSender {
		return ""
	}
	return caller
}

// runDelegator adapts the dispatcher into the tool package's Delegator for
// one run, capturing the run context and call stack the recursive Call needs.
type runDelegator struct {
	dispatcher *Dispatcher
	rc         *core.RunContext
	stack      *core.CallStack
}

// Delegate implements tool.Delegator.
func (rd *runDelegator) Delegate(tc *core.ToolContext, recipient, message string, attachments []string) (string, error) {
	caller := tc.AgentName()
	start := time.Now()

	_ = rd.rc.EmitEvent(core.NewEvent(core.EventDelegationStart, rd.rc.RunID, recipient).
		WithCaller(caller).
		WithTool(tool.SendMessageName, tc.CallID()).
		WithContent(message))

	res, err := rd.dispatcher.Call(rd.rc, rd.stack, caller, recipient, message, attachments, tc.CallID())

	end := core.NewEvent(core.EventDelegationEnd, rd.rc.RunID, recipient).
		WithCaller(caller).
		WithTool(tool.SendMessageName, tc.CallID())
	if err != nil {
		end = end.WithError(core.CodeOf(err, core.CodeToolFailure))
	} else {
		end = end.WithContent(res.Text)
	}
	_ = rd.rc.EmitEvent(end)

	rd.rc.LogInfo("dispatch.delegation",
		"caller", caller,
		"callee", recipient,
		"depth", rd.stack.Depth(),
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	return res.Text, err
}

var _ tool.Delegator = (*runDelegator)(nil)
