package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message and print the answer",
		Long:  "Send one message and print the answer. The message is read from stdin when no argument is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return c.ask(ctx, cmd, args)
		},
	}
}

func (c *cli) ask(ctx context.Context, cmd *cobra.Command, args []string) error {
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" {
		b, err := io.ReadAll(c.in)
		if err != nil {
			return errors.Wrap(err, "unable to read the message")
		}
		input = strings.TrimSpace(string(b))
	}
	if input == "" {
		return errors.New("message is required")
	}

	o, err := c.newOrchestrator(cmd)
	if err != nil {
		return err
	}

	ctx = c.chatContext(ctx, o)
	answer, err := o.ProcessMessage(ctx, input)
	if err != nil {
		fmt.Fprintf(c.err, "Error: %s\n", err.Error())
	} else {
		fmt.Fprintln(c.out, answer)
	}
	if derr := c.endRun(ctx, o); derr != nil && err == nil {
		err = derr
	}
	return err
}
