package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/orchestrator"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/spf13/cobra"
)

const historyFile = ".toolharness_history"

func newChatCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.chat(cmd.Context(), cmd)
		},
	}
}

func (c *cli) chat(ctx context.Context, cmd *cobra.Command) error {
	o, err := c.newOrchestrator(cmd)
	if err != nil {
		return err
	}

	var history string
	if home, err := os.UserHomeDir(); err == nil {
		history = filepath.Join(home, historyFile)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       history,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(c.in),
		Stdout:            c.out,
		Stderr:            c.err,
	})
	if err != nil {
		return errors.Wrap(err, "unable to initialize readline")
	}
	defer rl.Close()

	fmt.Fprintf(c.out, "Chatting with %s. Type 'exit' or 'quit' to leave.\n", o.Model().GetName())

	ctx = c.chatContext(ctx, o)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "unable to read input")
		}
		if !c.handleLine(ctx, o, line) {
			break
		}
	}

	return c.endRun(ctx, o)
}

// handleLine sends one line to the orchestrator and prints the answer.
// It returns false when the user asked to leave.
func (c *cli) handleLine(ctx context.Context, o *orchestrator.Orchestrator, line string) bool {
	input := strings.TrimSpace(line)
	switch strings.ToLower(input) {
	case "":
		return true
	case "exit", "quit":
		return false
	}

	answer, err := o.ProcessMessage(ctx, input)
	if err != nil {
		if llms.IsTransient(err) {
			fmt.Fprintf(c.err, "Error: %s\nThe backend is temporarily unavailable, try again.\n", err.Error())
		} else {
			fmt.Fprintf(c.err, "Error: %s\n", err.Error())
		}
		return true
	}
	fmt.Fprintln(c.out, answer)
	return true
}
