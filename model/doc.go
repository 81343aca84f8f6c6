// Package model defines the completion collaborator boundary: given a thread
// history and a set of callable tool definitions, produce a response and/or
// tool call requests. The dispatcher treats implementations as opaque,
// potentially slow, potentially failing remote calls. Concrete providers live
// in subpackages (openai, anthropic); MockModel supports tests and examples.
package model
