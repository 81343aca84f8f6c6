// Package agency provides a high-level façade for building fixed-crew
// multi-agent systems that communicate over an explicit permission graph.
// Most applications interact with this package by:
//  1. Creating an Agency via New() with agents, flows and entry points
//  2. Sending a request to an entry-point agent with GetResponse (synchronous)
//     or GetResponseStream (event streaming)
//  3. Optionally wiring persistence hooks so threads and shared state survive
//     process restarts
//
// The façade delegates routing and the completion loop to dispatch.Dispatcher
// while keeping setup and usage ergonomics concise. All defaults are safe for
// local development and testing; production deployments typically supply a
// durable snapshot store and a structured logger.
package agency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agency/attachment"
	"github.com/hupe1980/agency/core"
	"github.com/hupe1980/agency/dispatch"
	"github.com/hupe1980/agency/graph"
	"github.com/hupe1980/agency/logging"
	"github.com/hupe1980/agency/thread"
)

// Re-exported aliases so simple applications only import this package.
type (
	// Agent is one fixed participant of the agency.
	Agent = dispatch.Agent
	// Result is the outcome of a completed request.
	Result = dispatch.Result
	// Flow is one permitted directed initiation edge.
	Flow = graph.Flow
)

// Options configures the Agency instance.
type Options struct {
	// Agents is the fixed participant set. Required.
	Agents []*Agent

	// Flows are the permitted directed initiation edges between agents.
	Flows []Flow

	// EntryPoints are the agents the external caller may address. When empty
	// and exactly one agent is never a flow recipient, that agent becomes the
	// sole entry point.
	EntryPoints []string

	// MaxDepth bounds the synchronous delegation chain. 0 selects
	// core.DefaultMaxDepth.
	MaxDepth int

	// MaxToolTurns limits completion/tool rounds per invocation.
	MaxToolTurns int

	// CompletionRetries limits attempts per completion step.
	CompletionRetries int

	// RunTimeout, when >0, bounds the wall-clock duration of one request
	// including all nested delegations.
	RunTimeout time.Duration

	// Threads stores the per-pair conversation logs (defaults to the
	// in-memory thread.Manager).
	Threads core.ThreadStore

	// Attachments resolves attachment references (defaults to the in-memory
	// store).
	Attachments core.AttachmentStore

	// LoadHook rehydrates threads and shared state once, before the first
	// run. SaveHook persists a full snapshot after every run; its errors are
	// logged, never surfaced.
	LoadHook core.LoadHook
	SaveHook core.SaveHook

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger

	// EventBufferSize sets the channel buffer for streaming runs. Larger
	// buffers reduce blocking but increase memory usage.
	EventBufferSize int

	// Stream requests partial text deltas from models that support them
	// during streaming runs.
	Stream bool
}

// RunOptions configure a single request.
type RunOptions struct {
	// ConversationID separates independent conversations between the same
	// participants. Empty selects a fresh generated id.
	ConversationID string

	// Attachments are attachment IDs referenced by the request message.
	Attachments []string
}

// Agency is the high-level façade aggregating the graph, the dispatcher and
// the configured stores. It is safe for concurrent use; each request gets its
// own isolated run context.
type Agency struct {
	opts       Options
	graph      *graph.Graph
	dispatcher *dispatch.Dispatcher

	loadOnce    sync.Once
	loadedState map[string]any
}

// New creates a new Agency. Construction fails with a *core.GraphConfigError
// when the agent set, flows or entry points are inconsistent; a misconfigured
// graph must never reach a live run.
func New(optFns ...func(o *Options)) (*Agency, error) {
	opts := Options{
		Threads:         thread.NewManager(),
		Attachments:     attachment.NewInMemoryStore(),
		Logger:          logging.NoOpLogger{},
		EventBufferSize: 64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Threads == nil {
		opts.Threads = thread.NewManager()
	}
	if opts.Attachments == nil {
		opts.Attachments = attachment.NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if len(opts.Agents) == 0 {
		return nil, &core.GraphConfigError{Reason: "no agents configured"}
	}

	names := make([]string, 0, len(opts.Agents))
	for _, a := range opts.Agents {
		names = append(names, a.Name)
	}

	entryPoints := opts.EntryPoints
	if len(entryPoints) == 0 {
		entryPoints = defaultEntryPoints(names, opts.Flows)
	}

	g, err := graph.New(names, opts.Flows, entryPoints)
	if err != nil {
		return nil, err
	}

	d, err := dispatch.New(opts.Agents, g, func(o *dispatch.Options) {
		o.MaxToolTurns = opts.MaxToolTurns
		o.CompletionRetries = opts.CompletionRetries
		o.Stream = opts.Stream
	})
	if err != nil {
		return nil, err
	}

	return &Agency{opts: opts, graph: g, dispatcher: d}, nil
}

// defaultEntryPoints selects the sole agent that never appears as a flow
// recipient, the natural root of a tree-shaped crew. Ambiguity returns nil
// and lets graph validation reject the configuration explicitly.
func defaultEntryPoints(names []string, flows []Flow) []string {
	recipients := make(map[string]struct{}, len(flows))
	for _, f := range flows {
		recipients[f.Recipient] = struct{}{}
	}
	var roots []string
	for _, name := range names {
		if _, ok := recipients[name]; !ok {
			roots = append(roots, name)
		}
	}
	if len(roots) == 1 {
		return roots
	}
	return nil
}

// Graph returns the validated communication graph.
func (a *Agency) Graph() *graph.Graph { return a.graph }

// Thread returns a copy of the recorded conversation between two
// participants (either may be core.ExternalSender) for a conversation id.
func (a *Agency) Thread(x, y, conversationID string) []core.Message {
	t := a.opts.Threads.GetOrCreate(core.NewThreadKey(x, y, conversationID))
	return t.Messages()
}

// resolveRecipient fills an omitted recipient with the sole configured entry
// point. With several entry points an explicit choice is required.
func (a *Agency) resolveRecipient(recipient string) (string, error) {
	if recipient != "" {
		return recipient, nil
	}
	entries := a.graph.EntryPoints()
	if len(entries) == 1 {
		return entries[0], nil
	}
	return "", fmt.Errorf("recipient required: %d entry points configured", len(entries))
}

// GetResponse sends message to an entry-point agent and blocks until its
// final reply. The full delegation tree runs synchronously inside this call.
// An empty recipient selects the sole configured entry point.
func (a *Agency) GetResponse(ctx context.Context, recipient, message string, optFns ...func(o *RunOptions)) (Result, error) {
	recipient, err := a.resolveRecipient(recipient)
	if err != nil {
		return Result{}, err
	}

	runOpts := newRunOptions(optFns)
	a.ensureLoaded()

	ctx, cancel := a.runContext(ctx)
	defer cancel()

	runID := core.NewID()
	rc := core.NewRunContext(
		ctx, runID, runOpts.ConversationID,
		a.dispatcher.Infos(), a.opts.Threads, a.opts.Attachments,
		nil, a.opts.Logger,
	)
	rc.RestoreState(a.loadedState)

	stack := core.NewCallStack(a.opts.MaxDepth)
	res, err := a.dispatcher.Call(rc, stack, core.ExternalSender, recipient, message, runOpts.Attachments, "")
	a.save(rc)
	return res, err
}

// GetResponseStream sends message to an entry-point agent and returns the
// run id plus event and error channels. The event channel is closed when the
// run completes; the error channel carries at most one terminal error.
// Permission failures on the entry point are returned synchronously.
func (a *Agency) GetResponseStream(
	ctx context.Context,
	recipient, message string,
	optFns ...func(o *RunOptions),
) (string, <-chan core.Event, <-chan error, error) {
	recipient, err := a.resolveRecipient(recipient)
	if err != nil {
		return "", nil, nil, err
	}
	if !a.graph.IsEntryPoint(recipient) {
		return "", nil, nil, &core.PermissionError{Sender: core.ExternalSender, Recipient: recipient}
	}

	runOpts := newRunOptions(optFns)
	a.ensureLoaded()

	runID := core.NewID()
	events := make(chan core.Event, a.opts.EventBufferSize)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errCh)

		runCtx, cancel := a.runContext(ctx)
		defer cancel()

		rc := core.NewRunContext(
			runCtx, runID, runOpts.ConversationID,
			a.dispatcher.Infos(), a.opts.Threads, a.opts.Attachments,
			events, a.opts.Logger,
		)
		rc.RestoreState(a.loadedState)

		stack := core.NewCallStack(a.opts.MaxDepth)
		res, err := a.dispatcher.Call(rc, stack, core.ExternalSender, recipient, message, runOpts.Attachments, "")
		if err != nil {
			errCh <- err
		} else {
			_ = rc.EmitEvent(core.NewEvent(core.EventFinal, runID, recipient).WithContent(res.Text))
		}
		a.save(rc)
	}()

	return runID, events, errCh, nil
}

// newRunOptions applies per-request option functions and fills defaults.
func newRunOptions(optFns []func(o *RunOptions)) RunOptions {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ConversationID == "" {
		opts.ConversationID = core.NewID()
	}
	return opts
}

// runContext derives the per-run context, applying the configured timeout.
func (a *Agency) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.opts.RunTimeout > 0 {
		return context.WithTimeout(ctx, a.opts.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// ensureLoaded runs the load hook exactly once, restoring threads into the
// store and capturing shared state for future run contexts. A failing load
// starts from empty state; durability loss never blocks new work.
func (a *Agency) ensureLoaded() {
	a.loadOnce.Do(func() {
		if a.opts.LoadHook == nil {
			return
		}
		snapshot, err := a.opts.LoadHook()
		if err != nil {
			a.opts.Logger.Error("agency.load.failed", "error", err.Error())
			return
		}
		if err := a.opts.Threads.Restore(snapshot.Threads); err != nil {
			a.opts.Logger.Error("agency.load.restore_failed", "error", err.Error())
			return
		}
		a.loadedState = snapshot.State
		a.opts.Logger.Info("agency.load.complete", "threads", len(snapshot.Threads))
	})
}

// save runs the save hook with a full snapshot. Save failures are logged and
// swallowed so an otherwise-successful run is never failed retroactively.
func (a *Agency) save(rc *core.RunContext) {
	if a.opts.SaveHook == nil {
		return
	}
	snapshot := core.Snapshot{
		Threads: a.opts.Threads.Snapshot(),
		State:   rc.SnapshotState(),
	}
	if err := a.opts.SaveHook(snapshot); err != nil {
		a.opts.Logger.Error("agency.save.failed", "run_id", rc.RunID, "error", err.Error())
	}
}
