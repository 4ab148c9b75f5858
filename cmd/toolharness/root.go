package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/callbacks"
	"github.com/effective-security/toolharness/chatmodel"
	"github.com/effective-security/toolharness/orchestrator"
	"github.com/effective-security/toolharness/pkg/llmfactory"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/llmutils"
	"github.com/effective-security/toolharness/pkg/prompts"
	"github.com/effective-security/toolharness/tools/bash"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolharness", "cmd")

// default models when the configuration file does not specify one
const (
	defaultAnthropicModel = "claude-sonnet-4-5"
	defaultOpenAIModel    = "gpt-4o"
)

// tokenEnv maps the provider type to the environment variable with the API key.
var tokenEnv = map[llms.ProviderType]string{
	llms.ProviderAnthropic: "ANTHROPIC_API_KEY",
	llms.ProviderOpenAI:    "OPENAI_API_KEY",
}

type cli struct {
	in  io.Reader
	out io.Writer
	err io.Writer

	cfgFile     string
	provider    string
	model       string
	maxTokens   int
	maxRounds   int
	system      string
	withBash    bool
	bashTimeout time.Duration
	verbose     bool
	dump        bool

	scratchpad *callbacks.Scratchpad
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, err: errOut}

	root := &cobra.Command{
		Use:           "toolharness",
		Short:         "Talk to a language model that can call local tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			xlog.SetFormatter(xlog.NewStringFormatter(c.err))
			if c.verbose {
				xlog.SetGlobalLogLevel(xlog.DEBUG)
			} else {
				xlog.SetGlobalLogLevel(xlog.WARNING)
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	f := root.PersistentFlags()
	f.StringVar(&c.cfgFile, "cfg", "", "configuration file, YAML, JSON or TOML")
	f.StringVar(&c.provider, "provider", "", "provider name from the configuration, or the provider type: anthropic|openai")
	f.StringVar(&c.model, "model", "", "model identifier")
	f.IntVar(&c.maxTokens, "max-tokens", 0, "maximum number of tokens to generate")
	f.IntVar(&c.maxRounds, "max-rounds", 0, "maximum tool rounds per message, negative for unbounded")
	f.StringVar(&c.system, "system", "", "system prompt template")
	f.BoolVar(&c.withBash, "bash", false, "register the bash tool")
	f.DurationVar(&c.bashTimeout, "bash-timeout", bash.DefaultTimeout, "timeout of a bash command")
	f.BoolVarP(&c.verbose, "verbose", "v", false, "print model and tool calls")
	f.BoolVar(&c.dump, "dump", false, "print the conversation as YAML when done")

	root.AddCommand(newAskCmd(c), newChatCmd(c))
	return root
}

// loadConfig returns the configuration file, or a single provider
// configuration built from the flags when no file is given.
func (c *cli) loadConfig() (*llmfactory.Config, error) {
	if c.cfgFile != "" {
		cfg, err := llmfactory.LoadConfig(c.cfgFile)
		if err != nil {
			return nil, err
		}
		for _, p := range cfg.Providers {
			if p.Token == "" {
				p.Token = os.Getenv(tokenEnv[p.ProviderType()])
			}
		}
		return cfg, nil
	}

	pt := llms.ProviderType(strings.ToUpper(values.StringsCoalesce(c.provider, string(llms.ProviderAnthropic))))
	model := defaultAnthropicModel
	if pt == llms.ProviderOpenAI {
		model = defaultOpenAIModel
	}
	cfg := &llmfactory.Config{
		Providers: []*llmfactory.ProviderConfig{
			{
				Name:         strings.ToLower(string(pt)),
				Type:         string(pt),
				Token:        os.Getenv(tokenEnv[pt]),
				DefaultModel: values.StringsCoalesce(c.model, model),
			},
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "provider %q", c.provider)
	}
	return cfg, nil
}

func (c *cli) selectModel(cfg *llmfactory.Config) (llms.Model, error) {
	f := llmfactory.New(cfg)
	if c.provider != "" {
		if cfg.Provider(c.provider) != nil {
			return f.ModelByProvider(c.provider, c.model)
		}
		pt := llms.ProviderType(strings.ToUpper(c.provider))
		for _, p := range cfg.Providers {
			if p.ProviderType() == pt {
				return f.ModelByProvider(p.Name, c.model)
			}
		}
		return nil, errors.Newf("provider not found: %s", c.provider)
	}
	if c.model != "" {
		return f.ModelByName(c.model)
	}
	return f.DefaultModel()
}

func (c *cli) newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	model, err := c.selectModel(cfg)
	if err != nil {
		return nil, err
	}

	ocfg := cfg.Orchestrator
	opts := []orchestrator.Option{
		orchestrator.WithName(ocfg.Name),
		orchestrator.WithMaxRounds(ocfg.MaxRounds),
	}
	if cmd.Flags().Changed("max-rounds") {
		opts = append(opts, orchestrator.WithMaxRounds(c.maxRounds))
	}
	if maxTokens := values.NumbersCoalesce(c.maxTokens, ocfg.MaxTokens); maxTokens > 0 {
		opts = append(opts, orchestrator.WithMaxTokens(maxTokens))
	}
	system, err := prompts.Render(values.StringsCoalesce(c.system, ocfg.SystemPrompt, prompts.DefaultSystemPrompt), nil)
	if err != nil {
		return nil, err
	}
	opts = append(opts, orchestrator.WithSystemPrompt(system))

	mode := callbacks.ModeDefault
	if c.verbose {
		mode = callbacks.ModeVerbose
	}
	c.scratchpad = callbacks.NewScratchpad(mode)
	fanout := callbacks.NewFanout(c.scratchpad, callbacks.NewPackageLogger(logger))
	if c.verbose {
		fanout.Add(callbacks.NewPrinter(c.err, mode))
	}
	opts = append(opts, orchestrator.WithCallback(fanout))

	o, err := orchestrator.New(model, opts...)
	if err != nil {
		return nil, err
	}

	if c.withBash {
		tool, err := bash.New(bash.WithTimeout(c.bashTimeout))
		if err != nil {
			return nil, err
		}
		if err = o.RegisterTool(tool); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// chatContext returns ctx bound to the conversation of o, with a started run.
func (c *cli) chatContext(ctx context.Context, o *orchestrator.Orchestrator) context.Context {
	ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(o.Conversation().ID()))
	c.scratchpad.StartRun(ctx)
	return ctx
}

func (c *cli) endRun(ctx context.Context, o *orchestrator.Orchestrator) error {
	stats, events := c.scratchpad.EndRun(ctx)
	if c.verbose && stats != nil {
		_, _ = c.err.Write(events)
	}
	if c.dump {
		s, err := llmutils.JSONToYAML(o.Conversation())
		if err != nil {
			return errors.Wrap(err, "unable to dump the conversation")
		}
		fmt.Fprint(c.out, s)
	}
	return nil
}
