package thread

import "github.com/hupe1980/agency/core"

// Strategy decides which part of a thread's log is handed to the completion
// collaborator. The stored log itself is never modified; strategies only
// shape the read path, which is where context-window management belongs.
type Strategy interface {
	Truncate(msgs []core.Message) []core.Message
}

// NoTruncation passes the full history through.
type NoTruncation struct{}

// Truncate implements Strategy.
func (NoTruncation) Truncate(msgs []core.Message) []core.Message { return msgs }

// KeepLast retains the first message (the thread opener, which anchors the
// conversation) plus the N most recent messages.
type KeepLast struct {
	N int
}

// Truncate implements Strategy.
func (s KeepLast) Truncate(msgs []core.Message) []core.Message {
	if s.N <= 0 || len(msgs) <= s.N {
		return msgs
	}
	out := make([]core.Message, 0, s.N+1)
	out = append(out, msgs[0])
	out = append(out, msgs[len(msgs)-s.N:]...)
	return out
}
