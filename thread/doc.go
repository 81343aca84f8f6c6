// Package thread provides the in-memory ThreadStore implementation: one
// isolated, append-only message log per communicating pair, with per-key
// serialization so independent runs can append to overlapping threads
// concurrently. Snapshot/Restore round-trips support the agency persistence
// hooks; durable backends live in subpackages (see thread/sqlite).
package thread
