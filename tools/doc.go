// Package tools provides the tool descriptor handed to a model backend, and the
// registry the orchestrator resolves tool calls against.
//
// A Tool is immutable once constructed: its input schema is kept as canonical JSON
// and compiled once for argument validation.
package tools
