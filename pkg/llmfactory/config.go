package llmfactory

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Config is the content of the configuration file.
type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers" toml:"providers" validate:"dive,required"`
	// DefaultProvider specifies the name of the default provider,
	// the first provider is used if empty.
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty" toml:"default_provider"`
	// Orchestrator specifies the conversation loop settings
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator" toml:"orchestrator"`
}

// ProviderConfig describes one backend.
type ProviderConfig struct {
	Name string `json:"name" yaml:"name" toml:"name" validate:"required"`
	// Type specifies the adapter: ANTHROPIC|OPENAI
	Type            string   `json:"type" yaml:"type" toml:"type" validate:"required,oneof=ANTHROPIC OPENAI"`
	Token           string   `json:"token,omitempty" yaml:"token,omitempty" toml:"token"`
	DefaultModel    string   `json:"default_model" yaml:"default_model" toml:"default_model" validate:"required"`
	AvailableModels []string `json:"available_models,omitempty" yaml:"available_models,omitempty" toml:"available_models"`
	// BaseURL overrides the API endpoint, any OpenAI compatible endpoint can be used with OPENAI type.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url" validate:"omitempty,url"`
	// OrgID specifies which organization's quota and billing should be used, OPENAI only.
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty" toml:"org_id"`
	// MaxRetries is the number of retries performed by the SDK client.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries" validate:"omitempty,gte=0,lte=10"`
	// RequestTimeout is a duration string, for example 90s or 2m.
	RequestTimeout string `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty" toml:"request_timeout"`
}

// OrchestratorConfig specifies the loop settings.
type OrchestratorConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	// SystemPrompt is a template rendered by the prompts package.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty" toml:"system_prompt"`
	// MaxRounds is the maximum number of tool rounds per message,
	// 0 means default and negative means unbounded.
	MaxRounds int `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty" toml:"max_rounds"`
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens" validate:"gte=0"`
}

// FindModel returns the first of models available at the provider,
// or DefaultModel if none is.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if model == c.DefaultModel || slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// HasModel returns true if the provider serves the model.
func (c *ProviderConfig) HasModel(model string) bool {
	return model != "" && (model == c.DefaultModel || slices.Contains(c.AvailableModels, model))
}

// ProviderType returns the adapter type.
func (c *ProviderConfig) ProviderType() llms.ProviderType {
	return llms.ProviderType(c.Type)
}

// Timeout returns the parsed RequestTimeout, or zero if not set.
func (c *ProviderConfig) Timeout() (time.Duration, error) {
	if c.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, errors.Wrapf(err, "provider %q: invalid request_timeout", c.Name)
	}
	if d < 0 {
		return 0, errors.Newf("provider %q: negative request_timeout", c.Name)
	}
	return d, nil
}

// Provider returns the provider by name, or nil if not found.
func (c *Config) Provider(name string) *ProviderConfig {
	for _, p := range c.Providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Validate normalizes provider types and checks the configuration.
func (c *Config) Validate() error {
	names := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p == nil {
			continue
		}
		p.Type = normalizeType(p.Type)
		if _, ok := names[p.Name]; ok {
			return errors.Newf("duplicate provider: %q", p.Name)
		}
		names[p.Name] = struct{}{}
	}

	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	for _, p := range c.Providers {
		if _, err := p.Timeout(); err != nil {
			return err
		}
	}
	if c.DefaultProvider != "" && c.Provider(c.DefaultProvider) == nil {
		return errors.Newf("default provider not found: %q", c.DefaultProvider)
	}
	return nil
}

func normalizeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "OPEN_AI" {
		return string(llms.ProviderOpenAI)
	}
	return t
}

// LoadConfig from file, an empty location returns an empty configuration.
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	if strings.EqualFold(filepath.Ext(file), ".toml") {
		if err := loadTOML(file, cfg); err != nil {
			return nil, err
		}
	} else if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "config %s", filepath.Base(file))
	}
	return cfg, nil
}

func loadTOML(file string, cfg *Config) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err = toml.Decode(os.ExpandEnv(string(b)), cfg); err != nil {
		return errors.Wrapf(err, "unable to decode %s", filepath.Base(file))
	}
	return nil
}
