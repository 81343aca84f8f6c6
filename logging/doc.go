// Package logging provides a tiny abstraction over slog so downstream code
// can depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer AgencyLogger with contextual
// helpers (run, thread, component) and domain specific logging helpers for
// completion calls, tool execution and delegation.
package logging
