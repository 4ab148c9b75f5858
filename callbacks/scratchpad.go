package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/toolharness/chatmodel"
	"github.com/effective-security/toolharness/orchestrator"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/llmutils"
	"github.com/effective-security/toolharness/tools"
)

var TimeNowFn = time.Now

// RunStats is the summary of a run.
type RunStats struct {
	ChatID string
	RunID  string

	Duration          time.Duration
	Messages          uint32
	MessagesSucceeded uint32
	MessagesFailed    uint32
	ModelCalls        uint32
	TotalMessages     uint32
	LLMBytesOut       uint64
	LLMBytesIn        uint64
	LLMInputTokens    uint64
	LLMOutputTokens   uint64
	ToolsCalls        uint32
	ToolsSucceeded    uint32
	ToolsFailed       uint32
	ToolNotFound      uint32
}

// Scratchpad records the events of a run per chat, and collects RunStats.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun starts a run for the chat in the context.
// The context must have chatmodel.ChatContext.
func (l *Scratchpad) StartRun(ctx context.Context) {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return
	}

	r := &run{
		stats: RunStats{
			ChatID: chatCtx.GetChatID(),
			RunID:  chatmodel.NewChatID(),
		},
		started: TimeNowFn(),
	}

	chatCtx.SetMetadata(chatmodel.MetadataRunID, r.stats.RunID)

	l.lock.Lock()
	l.runs[chatCtx.GetChatID()] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
}

// EndRun ends the run, and returns the stats and the recorded events.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	run := l.getRun(ctx)
	if run == nil {
		return nil, nil
	}

	stats := run.stats
	stats.Duration = TimeNowFn().Sub(run.started)

	run.print(fmt.Sprintf("Messages: %d, Failed: %d",
		stats.Messages,
		stats.MessagesFailed,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolsCalls,
		stats.ToolsFailed,
		stats.ToolNotFound,
	))
	run.print(fmt.Sprintf("Model calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Input Tokens: %d, Output Tokens: %d",
		stats.ModelCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
	))
	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, stats.ChatID)
	l.lock.Unlock()

	return &stats, run.w.Bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	chatID := chatmodel.GetChatID(ctx)
	if chatID == "" {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[chatID]
}

func (l *Scratchpad) OnMessageStart(ctx context.Context, o *orchestrator.Orchestrator, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.Messages, 1)
	run.print(o.Name(), "*** Message Start ***")
	run.print(o.Name(), "Input:", input)
}

func (l *Scratchpad) OnMessageEnd(ctx context.Context, o *orchestrator.Orchestrator, input, answer string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.MessagesSucceeded, 1)
	if l.mode == ModeVerbose {
		run.print(o.Name(), "Answer:", answer)
	}
	run.print(o.Name(), "*** Message End ***")
}

func (l *Scratchpad) OnMessageError(ctx context.Context, o *orchestrator.Orchestrator, input string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.MessagesFailed, 1)
	run.print(o.Name(), "*** Error ***", err.Error())
	run.print(o.Name(), printMessages(o.Conversation().Messages()))
}

func printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

func (l *Scratchpad) OnModelCallStart(ctx context.Context, o *orchestrator.Orchestrator, messages []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesOut, llmutils.CountMessagesContentSize(messages))
	atomic.AddUint32(&run.stats.ModelCalls, 1)
	count := uint32(len(messages))
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print(o.Name(), "*** Model Call ***", fmt.Sprintf("%s model, %d messages", o.Model().GetName(), count))
	if l.mode == ModeVerbose {
		run.print(o.Name(), printMessages(messages))
	}
}

func (l *Scratchpad) OnModelCallEnd(ctx context.Context, o *orchestrator.Orchestrator, resp *llms.ContentResponse) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	tokensIn, tokensOut := llmutils.CountTokens(resp)
	atomic.AddUint64(&run.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
	atomic.AddUint64(&run.stats.LLMInputTokens, tokensIn)
	atomic.AddUint64(&run.stats.LLMOutputTokens, tokensOut)

	run.print(o.Name(), "*** Model Call End ***", fmt.Sprintf("%s model, %d input tokens, %d output tokens, %d tool calls",
		o.Model().GetName(), tokensIn, tokensOut, len(resp.ToolCalls())))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, tool *tools.Tool, call llms.ToolCall) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.print(tool.Name(), call.ID, "*** Tool Start ***")
	run.print(tool.Name(), call.ID, "Input:", call.Arguments())
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, tool *tools.Tool, call llms.ToolCall, output string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsSucceeded, 1)
	if l.mode == ModeVerbose {
		run.print(tool.Name(), call.ID, "Output:", output)
	}
	run.print(tool.Name(), call.ID, "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, tool *tools.Tool, call llms.ToolCall, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsFailed, 1)
	run.print(tool.Name(), call.ID, "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, o *orchestrator.Orchestrator, call llms.ToolCall) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print(o.Name(), "*** Tool Not Found ***", call.Name())
}

type run struct {
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp chatID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ts := TimeNowFn().Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.stats.ChatID)
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.stats.RunID)
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
