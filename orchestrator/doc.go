// Package orchestrator runs the tool-call loop between a model backend and the registered tools.
//
// ProcessMessage appends the user turn and then alternates between two steps until the model
// answers without requesting tools:
//
//   - AWAITING_MODEL: send the conversation and the tool definitions to the model, append the
//     assistant turn.
//   - AWAITING_TOOLS: execute the requested tools in order, append one tool-result turn per call.
//
// Tool failures, unknown tools and invalid arguments never abort the loop; they are reported to
// the model as tool-result turns whose content starts with "Error: ". Model failures are returned
// as *llms.BackendError.
//
// An Orchestrator owns one conversation and is not safe for concurrent use.
package orchestrator

import "github.com/effective-security/xlog"

var logger = xlog.NewPackageLogger("github.com/effective-security/toolharness", "orchestrator")
