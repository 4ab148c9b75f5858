package orchestrator

import (
	"context"

	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/tools"
)

// Callback receives the events of the loop.
type Callback interface {
	OnMessageStart(ctx context.Context, o *Orchestrator, input string)
	OnMessageEnd(ctx context.Context, o *Orchestrator, input, answer string)
	OnMessageError(ctx context.Context, o *Orchestrator, input string, err error)

	OnModelCallStart(ctx context.Context, o *Orchestrator, messages []llms.Message)
	OnModelCallEnd(ctx context.Context, o *Orchestrator, resp *llms.ContentResponse)

	OnToolStart(ctx context.Context, tool *tools.Tool, call llms.ToolCall)
	OnToolEnd(ctx context.Context, tool *tools.Tool, call llms.ToolCall, output string)
	OnToolError(ctx context.Context, tool *tools.Tool, call llms.ToolCall, err error)
	OnToolNotFound(ctx context.Context, o *Orchestrator, call llms.ToolCall)
}
