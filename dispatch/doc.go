// Package dispatch implements the message dispatcher: the single code path
// through which every message enters an agent. It enforces graph permissions,
// tracks the synchronous delegation stack against its depth bound, appends
// all traffic to the right pair thread and drives each invoked agent's
// completion loop (model call, tool execution, delegation) to a final reply.
//
// The dispatcher is stateless across runs; all per-run state lives in the
// core.RunContext and core.CallStack handed into Call.
package dispatch
