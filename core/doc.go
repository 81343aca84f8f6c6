// Package core provides the foundational domain types used by agency. It
// defines the core abstractions for:
//
//   - Messages and Threads (isolated, ordered pairwise conversation logs)
//   - RunContext (shared mutable state scoped to one top-level request)
//   - CallFrame / CallStack (the synchronous delegation stack)
//   - Events (streaming records tagged with acting and calling agent)
//   - The error taxonomy shared by all components
//   - Pluggable stores for threads and attachments
//
// The package intentionally keeps implementation concerns (persistence,
// dispatch, concrete completion providers) out of scope, exposing small
// interfaces to enable custom backends and extensions.
package core
