package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agency/core"
	"github.com/hupe1980/agency/graph"
	"github.com/hupe1980/agency/internal/testutil"
	"github.com/hupe1980/agency/model"
	"github.com/hupe1980/agency/thread"
	"github.com/hupe1980/agency/tool"
)

const conversationID = "conv-test"

type fixture struct {
	*testutil.RunFixture
}

func newFixture(ctx context.Context, maxDepth int) *fixture {
	return &fixture{testutil.NewRunFixture(ctx, conversationID, maxDepth, 256)}
}

func (f *fixture) history(a, b string) []core.Message {
	return f.Threads.History(core.NewThreadKey(a, b, conversationID))
}

func delegationArgs(recipient, message string) string {
	return fmt.Sprintf(`{"recipient":%q,"message":%q}`, recipient, message)
}

func newDispatcher(t *testing.T, agents []*Agent, flows []graph.Flow, entry []string, optFns ...func(o *Options)) *Dispatcher {
	t.Helper()
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}
	g, err := graph.New(names, flows, entry)
	require.NoError(t, err)
	d, err := New(agents, g, optFns...)
	require.NoError(t, err)
	return d
}

func TestCallDirectReply(t *testing.T) {
	m := model.NewMockModel("mock")
	m.AddResponse("hello", "hi there")

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m}},
		nil, []string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "hello", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Text)

	history := f.history(core.ExternalSender, "ceo")
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, core.RoleAgent, history[1].Role)
	assert.Equal(t, "hi there", history[1].Text)

	// Frame parity: the run ends with an empty stack.
	assert.Equal(t, 0, f.Stack.Depth())
}

func TestCallDelegation(t *testing.T) {
	ceoModel := model.NewMockModel("ceo-model")
	ceoModel.AddToolCall("Build the feature", core.ToolCall{
		ID:        "call-1",
		Name:      tool.SendMessageName,
		Arguments: delegationArgs("dev", "please implement"),
	})
	ceoModel.AddResponse("done implementing", "Shipped.")

	devModel := model.NewMockModel("dev-model")
	devModel.AddResponse("please implement", "done implementing")

	d := newDispatcher(t,
		[]*Agent{
			{Name: "ceo", Model: ceoModel},
			{Name: "dev", Model: devModel},
		},
		[]graph.Flow{{Initiator: "ceo", Recipient: "dev"}},
		[]string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "Build the feature", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "Shipped.", res.Text)

	// The delegated thread holds exactly the request and the final reply;
	// tool bookkeeping stays in the delegating agent's own thread.
	devThread := f.history("ceo", "dev")
	require.Len(t, devThread, 2)
	assert.Equal(t, core.RoleUser, devThread[0].Role)
	assert.Equal(t, "ceo", devThread[0].Sender)
	assert.Equal(t, "please implement", devThread[0].Text)
	assert.Equal(t, core.RoleAgent, devThread[1].Role)
	assert.Equal(t, "done implementing", devThread[1].Text)

	ceoThread := f.history(core.ExternalSender, "ceo")
	require.Len(t, ceoThread, 4)
	assert.Equal(t, core.RoleUser, ceoThread[0].Role)
	assert.Equal(t, core.RoleAgent, ceoThread[1].Role)
	require.Len(t, ceoThread[1].ToolCalls, 1)
	assert.Equal(t, core.RoleTool, ceoThread[2].Role)
	assert.Equal(t, "done implementing", ceoThread[2].Text)
	assert.Equal(t, "call-1", ceoThread[2].ToolCallID)
	assert.Equal(t, "Shipped.", ceoThread[3].Text)

	types := map[core.EventType]int{}
	for _, ev := range f.DrainEvents() {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[core.EventDelegationStart])
	assert.Equal(t, 1, types[core.EventDelegationEnd])
	assert.Equal(t, 1, types[core.EventToolCall])
	assert.Equal(t, 1, types[core.EventToolResult])
	assert.Equal(t, 2, types[core.EventAgentMessage])
}

func TestCallRejectsNonEntryExternal(t *testing.T) {
	d := newDispatcher(t,
		[]*Agent{
			{Name: "ceo", Model: model.NewMockModel("m")},
			{Name: "dev", Model: model.NewMockModel("m")},
		},
		[]graph.Flow{{Initiator: "ceo", Recipient: "dev"}},
		[]string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	_, err := d.Call(f.RC, f.Stack, core.ExternalSender, "dev", "hi", nil, "")
	var permErr *core.PermissionError
	require.ErrorAs(t, err, &permErr)

	assert.Empty(t, f.history(core.ExternalSender, "dev"), "denied calls leave no thread trace")
}

func TestCallRejectsUnknownAgent(t *testing.T) {
	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: model.NewMockModel("m")}},
		nil, []string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	_, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ghost", "hi", nil, "")
	var permErr *core.PermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestCompletionRetrySucceeds(t *testing.T) {
	m := model.NewMockModel("flaky")
	m.AddResponse("hello", "recovered")
	m.FailNext(2, errors.New("transient upstream error"))

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m}},
		nil, []string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "hello", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)

	// Both failed attempts leave an audit record ahead of the final reply.
	history := f.history(core.ExternalSender, "ceo")
	require.Len(t, history, 4)
	assert.Equal(t, core.RoleError, history[1].Role)
	assert.Equal(t, core.CodeCompletionFailure, history[1].ErrorCode)
	assert.Contains(t, history[1].Text, "attempt 1")
	assert.Equal(t, core.RoleError, history[2].Role)
	assert.Contains(t, history[2].Text, "attempt 2")
	assert.Equal(t, "recovered", history[3].Text)

	var attemptErrors int
	for _, ev := range f.DrainEvents() {
		if ev.Type == core.EventRunError && ev.ErrorCode == core.CodeCompletionFailure {
			attemptErrors++
		}
	}
	assert.Equal(t, 2, attemptErrors)
}

func TestCompletionRetryExhausted(t *testing.T) {
	m := model.NewMockModel("down")
	m.FailNext(3, errors.New("upstream hard down"))

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m}},
		nil, []string{"ceo"},
		func(o *Options) { o.CompletionRetries = 3 },
	)
	f := newFixture(context.Background(), 0)

	_, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "hello", nil, "")
	require.Error(t, err)

	var failure *core.CompletionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, "ceo", failure.Agent)
	assert.Equal(t, 0, f.Stack.Depth())

	// Each failed attempt is recorded, capped by the exhaustion summary.
	history := f.history(core.ExternalSender, "ceo")
	require.Len(t, history, 5)
	for _, msg := range history[1:] {
		assert.Equal(t, core.RoleError, msg.Role)
		assert.Equal(t, core.CodeCompletionFailure, msg.ErrorCode)
	}
	assert.Contains(t, history[4].Text, "3 attempts")
}

func TestDelegationDepthBound(t *testing.T) {
	ceoModel := model.NewMockModel("ceo-model")
	ceoModel.AddToolCall("go deep", core.ToolCall{
		ID:        "call-1",
		Name:      tool.SendMessageName,
		Arguments: delegationArgs("dev", "dig further"),
	})

	d := newDispatcher(t,
		[]*Agent{
			{Name: "ceo", Model: ceoModel},
			{Name: "dev", Model: model.NewMockModel("dev-model")},
		},
		[]graph.Flow{{Initiator: "ceo", Recipient: "dev"}},
		[]string{"ceo"},
	)
	// Depth 1: the top-level invocation occupies the only frame, so any
	// delegation trips the bound.
	f := newFixture(context.Background(), 1)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "go deep", nil, "")
	require.NoError(t, err, "the caller sees the failure as a tool result and may still answer")
	assert.NotEmpty(t, res.Text)

	// The failed delegation is recorded in the caller's thread under the
	// recursion limit code and never touched the target thread.
	var recorded bool
	for _, msg := range f.history(core.ExternalSender, "ceo") {
		if msg.ErrorCode == core.CodeRecursionLimit {
			recorded = true
			assert.Equal(t, "call-1", msg.ToolCallID)
		}
	}
	assert.True(t, recorded)
	assert.Empty(t, f.history("ceo", "dev"))
	assert.Equal(t, 0, f.Stack.Depth())
}

func TestToolFailureIsRecoverable(t *testing.T) {
	m := model.NewMockModel("m")
	m.AddToolCall("check status", core.ToolCall{ID: "c1", Name: "status", Arguments: "{}"})

	failing := tool.NewFunctionTool(
		"status",
		"Check backend status",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return nil, errors.New("backend unreachable")
		},
	)

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m, Tools: []tool.Tool{failing}}},
		nil, []string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "check status", nil, "")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Text)

	history := f.history(core.ExternalSender, "ceo")
	var errMsg *core.Message
	for i := range history {
		if history[i].Role == core.RoleError {
			errMsg = &history[i]
		}
	}
	require.NotNil(t, errMsg)
	assert.Equal(t, core.CodeToolFailure, errMsg.ErrorCode)
	assert.Equal(t, "c1", errMsg.ToolCallID)
	assert.Equal(t, "status", errMsg.ToolName)
}

func TestToolPanicIsContained(t *testing.T) {
	m := model.NewMockModel("m")
	m.AddToolCall("explode", core.ToolCall{ID: "c1", Name: "bomb", Arguments: "{}"})

	bomb := tool.NewFunctionTool(
		"bomb",
		"Panics",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			panic("kaboom")
		},
	)

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m, Tools: []tool.Tool{bomb}}},
		nil, []string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	_, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "explode", nil, "")
	require.NoError(t, err)

	history := f.history(core.ExternalSender, "ceo")
	var found bool
	for _, msg := range history {
		if msg.Role == core.RoleError && msg.ToolName == "bomb" {
			found = true
			assert.Contains(t, msg.Text, "panic")
		}
	}
	assert.True(t, found)
}

func TestParallelToolsShareRunState(t *testing.T) {
	m := model.NewMockModel("m")
	m.AddToolCall("gather",
		core.ToolCall{ID: "c1", Name: "fetch_a", Arguments: "{}"},
		core.ToolCall{ID: "c2", Name: "fetch_b", Arguments: "{}"},
	)
	m.AddResponse("result-b", "combined")

	mkTool := func(name, result string) tool.Tool {
		return tool.NewFunctionTool(
			name,
			"Fetch "+name,
			map[string]any{"type": "object", "properties": map[string]any{}},
			func(tc *core.ToolContext, args map[string]any) (any, error) {
				tc.SetState(name, result)
				return result, nil
			},
		)
	}

	d := newDispatcher(t,
		[]*Agent{{
			Name:  "ceo",
			Model: m,
			Tools: []tool.Tool{mkTool("fetch_a", "result-a"), mkTool("fetch_b", "result-b")},
		}},
		nil, []string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "gather", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "combined", res.Text)

	assert.Equal(t, "result-a", f.RC.GetDefault("fetch_a", ""))
	assert.Equal(t, "result-b", f.RC.GetDefault("fetch_b", ""))

	// Outcomes are recorded in request order regardless of completion order.
	history := f.history(core.ExternalSender, "ceo")
	require.Len(t, history, 5)
	assert.Equal(t, "result-a", history[2].Text)
	assert.Equal(t, "result-b", history[3].Text)
}

func TestSharedStateVisibleAcrossDelegation(t *testing.T) {
	setState := tool.NewFunctionTool(
		"record_budget",
		"Record the budget",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			tc.SetState("budget", "100")
			return "recorded", nil
		},
	)
	readState := tool.NewFunctionTool(
		"read_budget",
		"Read the budget",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			v, _ := tc.GetState("budget")
			return v, nil
		},
	)

	ceoModel := model.NewMockModel("ceo-model")
	ceoModel.AddToolCall("plan", core.ToolCall{ID: "c1", Name: "record_budget", Arguments: "{}"})
	ceoModel.AddToolCall("recorded", core.ToolCall{
		ID:        "c2",
		Name:      tool.SendMessageName,
		Arguments: delegationArgs("dev", "what is the budget?"),
	})
	ceoModel.AddResponse("100", "All set.")

	devModel := model.NewMockModel("dev-model")
	devModel.AddToolCall("what is the budget?", core.ToolCall{ID: "c3", Name: "read_budget", Arguments: "{}"})
	devModel.AddResponse("100", "100")

	d := newDispatcher(t,
		[]*Agent{
			{Name: "ceo", Model: ceoModel, Tools: []tool.Tool{setState}},
			{Name: "dev", Model: devModel, Tools: []tool.Tool{readState}},
		},
		[]graph.Flow{{Initiator: "ceo", Recipient: "dev"}},
		[]string{"ceo"},
	)
	f := newFixture(context.Background(), 0)

	res, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "plan", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "All set.", res.Text)
}

func TestCancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: model.NewMockModel("m")}},
		nil, []string{"ceo"},
	)
	f := newFixture(ctx, 0)

	_, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "hello", nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	history := f.history(core.ExternalSender, "ceo")
	require.Len(t, history, 2)
	assert.Equal(t, core.CodeCancelled, history[1].ErrorCode)
}

func TestMaxToolTurnsBound(t *testing.T) {
	m := model.NewMockModel("m")
	echo := tool.NewFunctionTool(
		"echo",
		"Echo",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(tc *core.ToolContext, args map[string]any) (any, error) {
			return "loop", nil
		},
	)
	// The model answers every prompt with another tool call, never a reply.
	m.AddToolCall("loop", core.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"})
	m.AddToolCall("go", core.ToolCall{ID: "c0", Name: "echo", Arguments: "{}"})

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m, Tools: []tool.Tool{echo}}},
		nil, []string{"ceo"},
		func(o *Options) { o.MaxToolTurns = 2 },
	)
	f := newFixture(context.Background(), 0)

	_, err := d.Call(f.RC, f.Stack, core.ExternalSender, "ceo", "go", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool turns")
}

func TestAgentValidation(t *testing.T) {
	m := model.NewMockModel("m")

	t.Run("reserved tool name", func(t *testing.T) {
		bad := &Agent{Name: "a", Model: m, Tools: []tool.Tool{
			tool.NewSendMessageTool("a", nil, nil),
		}}
		assert.Error(t, bad.Validate())
	})

	t.Run("missing model", func(t *testing.T) {
		assert.Error(t, (&Agent{Name: "a"}).Validate())
	})

	t.Run("agent missing from graph", func(t *testing.T) {
		g, err := graph.New([]string{"a"}, nil, []string{"a"})
		require.NoError(t, err)
		_, err = New([]*Agent{{Name: "b", Model: m}}, g)
		assert.Error(t, err)
	})
}

func TestConversationThreadsStaySeparate(t *testing.T) {
	m := model.NewMockModel("m")
	m.AddResponse("hello", "hi")

	d := newDispatcher(t,
		[]*Agent{{Name: "ceo", Model: m}},
		nil, []string{"ceo"},
	)

	threads := thread.NewManager()
	for _, conv := range []string{"conv-a", "conv-b"} {
		rc := core.NewRunContext(context.Background(), core.NewID(), conv, nil, threads, nil, nil, nil)
		_, err := d.Call(rc, core.NewCallStack(0), core.ExternalSender, "ceo", "hello", nil, "")
		require.NoError(t, err)
	}

	assert.Len(t, threads.History(core.NewThreadKey(core.ExternalSender, "ceo", "conv-a")), 2)
	assert.Len(t, threads.History(core.NewThreadKey(core.ExternalSender, "ceo", "conv-b")), 2)
}
