package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/toolharness/orchestrator"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/llmutils"
	"github.com/effective-security/toolharness/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ orchestrator.Callback = (*Noop)(nil)
	_ orchestrator.Callback = (*Printer)(nil)
	_ orchestrator.Callback = (*PackageLogger)(nil)
	_ orchestrator.Callback = (*Fanout)(nil)
	_ orchestrator.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []orchestrator.Callback
}

func NewFanout(callbacks ...orchestrator.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback orchestrator.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnMessageStart(ctx context.Context, o *orchestrator.Orchestrator, input string) {
	for _, callback := range l.callbacks {
		callback.OnMessageStart(ctx, o, input)
	}
}

func (l *Fanout) OnMessageEnd(ctx context.Context, o *orchestrator.Orchestrator, input, answer string) {
	for _, callback := range l.callbacks {
		callback.OnMessageEnd(ctx, o, input, answer)
	}
}

func (l *Fanout) OnMessageError(ctx context.Context, o *orchestrator.Orchestrator, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnMessageError(ctx, o, input, err)
	}
}

func (l *Fanout) OnModelCallStart(ctx context.Context, o *orchestrator.Orchestrator, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnModelCallStart(ctx, o, messages)
	}
}

func (l *Fanout) OnModelCallEnd(ctx context.Context, o *orchestrator.Orchestrator, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnModelCallEnd(ctx, o, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, tool *tools.Tool, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, tool, call)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool *tools.Tool, call llms.ToolCall, output string) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, tool, call, output)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, tool *tools.Tool, call llms.ToolCall, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, tool, call, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, o *orchestrator.Orchestrator, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, o, call)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnMessageStart(ctx context.Context, o *orchestrator.Orchestrator, input string) {}
func (l *Noop) OnMessageEnd(ctx context.Context, o *orchestrator.Orchestrator, input, answer string) {
}
func (l *Noop) OnMessageError(ctx context.Context, o *orchestrator.Orchestrator, input string, err error) {
}
func (l *Noop) OnModelCallStart(ctx context.Context, o *orchestrator.Orchestrator, messages []llms.Message) {
}
func (l *Noop) OnModelCallEnd(ctx context.Context, o *orchestrator.Orchestrator, resp *llms.ContentResponse) {
}
func (l *Noop) OnToolStart(ctx context.Context, tool *tools.Tool, call llms.ToolCall) {}
func (l *Noop) OnToolEnd(ctx context.Context, tool *tools.Tool, call llms.ToolCall, output string) {
}
func (l *Noop) OnToolError(ctx context.Context, tool *tools.Tool, call llms.ToolCall, err error) {}
func (l *Noop) OnToolNotFound(ctx context.Context, o *orchestrator.Orchestrator, call llms.ToolCall) {
}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnMessageStart(ctx context.Context, o *orchestrator.Orchestrator, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Message Start: %s\n", o.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnMessageEnd(ctx context.Context, o *orchestrator.Orchestrator, input, answer string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Message End: %s\n", o.Name())
	if l.Mode == ModeVerbose {
		fmt.Fprintln(l.Out, answer)
	}
}

func (l *Printer) OnMessageError(ctx context.Context, o *orchestrator.Orchestrator, input string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Message Error: %s: %s\n", o.Name(), err.Error())
}

func (l *Printer) OnModelCallStart(ctx context.Context, o *orchestrator.Orchestrator, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call: %s: %s model, %d messages\n", o.Name(), o.Model().GetName(), len(messages))
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, messages)
	}
}

func (l *Printer) OnModelCallEnd(ctx context.Context, o *orchestrator.Orchestrator, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call End: %s: %s model, %d choices, %d tool calls\n",
		o.Name(), o.Model().GetName(), len(resp.Choices), len(resp.ToolCalls()))
}

func (l *Printer) OnToolStart(ctx context.Context, tool *tools.Tool, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", tool.Name(), call.ID)
	fmt.Fprintf(l.Out, "Input: %s\n", call.Arguments())
}

func (l *Printer) OnToolEnd(ctx context.Context, tool *tools.Tool, call llms.ToolCall, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s)\n", tool.Name(), call.ID)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", output)
	}
}

func (l *Printer) OnToolError(ctx context.Context, tool *tools.Tool, call llms.ToolCall, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", tool.Name(), call.ID, err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, o *orchestrator.Orchestrator, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s (%s)\n", call.Name(), call.ID)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnMessageStart(ctx context.Context, o *orchestrator.Orchestrator, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "message_start",
		"orchestrator", o.Name(),
		"input", slices.StringUpto(input, 128),
	)
}

func (l *PackageLogger) OnMessageEnd(ctx context.Context, o *orchestrator.Orchestrator, input, answer string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "message_end",
		"orchestrator", o.Name(),
		"answer", slices.StringUpto(answer, 128),
	)
}

func (l *PackageLogger) OnMessageError(ctx context.Context, o *orchestrator.Orchestrator, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "message_error",
		"orchestrator", o.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnModelCallStart(ctx context.Context, o *orchestrator.Orchestrator, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_start",
		"orchestrator", o.Name(),
		"model", o.Model().GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnModelCallEnd(ctx context.Context, o *orchestrator.Orchestrator, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_end",
		"orchestrator", o.Name(),
		"model", o.Model().GetName(),
		"choices", len(resp.Choices),
		"tool_calls", len(resp.ToolCalls()),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, tool *tools.Tool, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"tool", tool.Name(),
		"tool_call_id", call.ID,
		"input", slices.StringUpto(call.Arguments(), 128),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, tool *tools.Tool, call llms.ToolCall, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"tool", tool.Name(),
		"tool_call_id", call.ID,
		"output", slices.StringUpto(output, 128),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, tool *tools.Tool, call llms.ToolCall, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"tool", tool.Name(),
		"tool_call_id", call.ID,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, o *orchestrator.Orchestrator, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"orchestrator", o.Name(),
		"tool", call.Name(),
	)
}
