// Package bash provides a tool that runs a bash command on the local host.
package bash

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolharness/tools", "bash")

// ToolName is the registered name of the tool.
const ToolName = "bash"

// DefaultTimeout is the per-command timeout.
const DefaultTimeout = 30 * time.Second

// DefaultMaxOutput is the number of bytes kept from each of stdout and stderr.
const DefaultMaxOutput = 16 * 1024

// Request represents the tool input.
type Request struct {
	Command string `json:"command" jsonschema:"title=Command,description=The bash command to execute"`
}

// Result is the outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Truncated is set when stdout or stderr was cut to the output limit.
	Truncated bool
}

// String returns the text handed back to the model.
func (r *Result) String() string {
	return fmt.Sprintf("STDOUT:\n%s\nSTDERR:\n%s\nEXIT CODE: %d", r.Stdout, r.Stderr, r.ExitCode)
}

// Runner executes bash commands.
type Runner struct {
	timeout   time.Duration
	shell     string
	dir       string
	maxOutput int
}

// Option configures Runner.
type Option func(*Runner)

// WithTimeout sets the per-command timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.timeout = timeout
	}
}

// WithMaxOutput sets the number of bytes kept from each of stdout and stderr.
func WithMaxOutput(n int) Option {
	return func(r *Runner) {
		r.maxOutput = n
	}
}

// WithDir sets the working directory of the commands.
func WithDir(dir string) Option {
	return func(r *Runner) {
		r.dir = dir
	}
}

// WithShell overrides the shell binary, "bash" by default.
func WithShell(shell string) Option {
	return func(r *Runner) {
		r.shell = shell
	}
}

// NewRunner returns Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.maxOutput <= 0 {
		r.maxOutput = DefaultMaxOutput
	}
	r.shell = values.StringsCoalesce(r.shell, "bash")
	return r
}

// New returns the bash tool.
func New(opts ...Option) (*tools.Tool, error) {
	r := NewRunner(opts...)
	return tools.NewTyped(ToolName,
		"Execute bash commands and return the output (stdout, stderr, exit code).",
		func(ctx context.Context, req *Request) (any, error) {
			return r.Run(ctx, req.Command)
		})
}

// Run executes the command.
// A non-zero exit code is reported in Result, not as an error.
func (r *Runner) Run(ctx context.Context, command string) (*Result, error) {
	if command == "" {
		return nil, errors.New("command is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	cmd.Dir = r.dir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "run",
		"command", slices.StringUpto(command, 64),
	)

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, errors.Newf("command timed out after %s", r.timeout)
	}

	res := &Result{}
	var cutOut, cutErr bool
	res.Stdout, cutOut = truncate(stdout.String(), r.maxOutput)
	res.Stderr, cutErr = truncate(stderr.String(), r.maxOutput)
	res.Truncated = cutOut || cutErr
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrap(err, "unable to run command")
		}
		res.ExitCode = exitErr.ExitCode()
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "done",
		"exit_code", res.ExitCode,
		"stdout", len(res.Stdout),
		"stderr", len(res.Stderr),
	)
	return res, nil
}

func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	return slices.StringUpto(s, limit) + fmt.Sprintf("\n[output truncated, %d bytes omitted]", len(s)-limit), true
}
