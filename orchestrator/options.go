package orchestrator

import (
	"github.com/effective-security/toolharness/chatmodel"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/tools"
)

const (
	// DefaultName is the name used in logs and metrics.
	DefaultName = "orchestrator"
	// DefaultMaxRounds is the number of tool rounds allowed for one user message.
	DefaultMaxRounds = 5
)

// Option is a function that can be used to modify the behavior of the Orchestrator.
type Option func(*Config)

// Config of the Orchestrator.
type Config struct {
	// Name is used in logs, metrics and callbacks.
	Name string

	// SystemPrompt is added as the first turn of a new conversation.
	SystemPrompt string

	// MaxRounds is the number of tool rounds allowed for one user message,
	// negative value means unbounded, zero means DefaultMaxRounds.
	MaxRounds int

	// ValidateArguments enables validation of the tool call arguments
	// against the tool input schema, enabled by default.
	ValidateArguments bool

	// Conversation to continue, a new one is created if not provided.
	Conversation *chatmodel.Conversation

	// Callback receives the events of the loop.
	Callback Callback

	// Registry of tools, an empty one is created if not provided.
	Registry *tools.Registry

	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// TopP is the cumulative probability for top-p sampling in an LLM call.
	TopP    float64
	toppSet bool

	// StopWords is a list of words to stop on to use in an LLM call.
	StopWords    []string
	stopWordsSet bool

	// ToolChoice is the choice of tool to use, see llms.WithToolChoice.
	ToolChoice    any
	toolChoiceSet bool

	// Metadata is sent with every LLM call, see llms.WithMetadata.
	Metadata map[string]any
}

// NewConfig returns Config with the options applied.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Name:              DefaultName,
		MaxRounds:         DefaultMaxRounds,
		ValidateArguments: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	return cfg
}

// WithName sets the name of the Orchestrator.
func WithName(name string) Option {
	return func(o *Config) {
		o.Name = name
	}
}

// WithSystemPrompt sets the system prompt of a new conversation.
func WithSystemPrompt(prompt string) Option {
	return func(o *Config) {
		o.SystemPrompt = prompt
	}
}

// WithMaxRounds sets the number of tool rounds allowed for one user message.
// Negative value means unbounded.
func WithMaxRounds(rounds int) Option {
	return func(o *Config) {
		o.MaxRounds = rounds
	}
}

// WithArgumentValidation enables or disables validation of the tool call arguments.
func WithArgumentValidation(enabled bool) Option {
	return func(o *Config) {
		o.ValidateArguments = enabled
	}
}

// WithConversation continues the provided conversation.
func WithConversation(conversation *chatmodel.Conversation) Option {
	return func(o *Config) {
		o.Conversation = conversation
	}
}

// WithRegistry sets the tool registry.
func WithRegistry(registry *tools.Registry) Option {
	return func(o *Config) {
		o.Registry = registry
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callback Callback) Option {
	return func(o *Config) {
		o.Callback = callback
	}
}

// WithModel is an option for LLM call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithTopP will add an option to use top-p sampling for LLM call.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
		o.toppSet = true
	}
}

// WithStopWords is an option for setting the stop words for LLM call.
func WithStopWords(stopWords []string) Option {
	return func(o *Config) {
		o.StopWords = stopWords
		o.stopWordsSet = true
	}
}

// WithToolChoice is an option for LLM call.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
		o.toolChoiceSet = true
	}
}

// WithMetadata is an option for LLM call.
func WithMetadata(metadata map[string]any) Option {
	return func(o *Config) {
		o.Metadata = metadata
	}
}

// GetCallOptions returns the LLM call options that were set.
func (c *Config) GetCallOptions() []llms.CallOption {
	var opts []llms.CallOption
	if c.modelSet {
		opts = append(opts, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		opts = append(opts, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		opts = append(opts, llms.WithTemperature(c.Temperature))
	}
	if c.toppSet {
		opts = append(opts, llms.WithTopP(c.TopP))
	}
	if c.stopWordsSet {
		opts = append(opts, llms.WithStopWords(c.StopWords))
	}
	if c.toolChoiceSet {
		opts = append(opts, llms.WithToolChoice(c.ToolChoice))
	}
	if len(c.Metadata) > 0 {
		opts = append(opts, llms.WithMetadata(c.Metadata))
	}
	return opts
}
