package llmfactory

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/llms/anthropic"
	"github.com/effective-security/toolharness/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolharness", "llmfactory")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// Factory is the interface for creating LLM models from the configuration.
type Factory interface {
	// Config returns the configuration the factory was created with.
	Config() *Config
	// DefaultModel returns the default model of the default provider.
	DefaultModel() (llms.Model, error)
	// ModelByProvider returns the model of the named provider,
	// if model is empty the provider's default model is used.
	ModelByProvider(name, model string) (llms.Model, error)
	// ModelByType returns the default model of the first provider of the type:
	// ANTHROPIC or OPENAI
	ModelByType(providerType llms.ProviderType) (llms.Model, error)
	// ModelByName returns an LLM model by its name,
	// if the model is not found, it will return the default model.
	ModelByName(preferredModels ...string) (llms.Model, error)
}

// Load returns a factory for the configuration file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg *Config

	defaultProvider *ProviderConfig
	byType          map[llms.ProviderType]llms.Model
	byName          map[string]llms.Model
	lock            sync.Mutex
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	f := &factory{
		cfg:    cfg,
		byType: make(map[llms.ProviderType]llms.Model),
		byName: make(map[string]llms.Model),
	}

	if cfg.DefaultProvider != "" {
		f.defaultProvider = cfg.Provider(cfg.DefaultProvider)
	}
	if f.defaultProvider == nil && len(f.cfg.Providers) > 0 {
		f.defaultProvider = f.cfg.Providers[0]
	}

	return f
}

// CreateLLM creates the adapter for the provider,
// using the first of preferredModels the provider serves.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	timeout, err := cfg.Timeout()
	if err != nil {
		return nil, err
	}

	model := cfg.FindModel(preferredModels...)
	switch llms.ProviderType(normalizeType(cfg.Type)) {
	case llms.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(model), anthropic.WithToken(cfg.Token)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxRetries != nil {
			opts = append(opts, anthropic.WithMaxRetries(*cfg.MaxRetries))
		}
		if timeout > 0 {
			opts = append(opts, anthropic.WithRequestTimeout(timeout))
		}
		return anthropic.New(opts...)
	case llms.ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(model), openai.WithToken(cfg.Token)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.OrgID != "" {
			opts = append(opts, openai.WithOrganization(cfg.OrgID))
		}
		if cfg.MaxRetries != nil {
			opts = append(opts, openai.WithMaxRetries(*cfg.MaxRetries))
		}
		if timeout > 0 {
			opts = append(opts, openai.WithRequestTimeout(timeout))
		}
		return openai.New(opts...)
	}
	return nil, errors.Errorf("unsupported provider type: %s", cfg.Type)
}

func (f *factory) Config() *Config {
	return f.cfg
}

// DefaultModel returns the default model of the default provider
func (f *factory) DefaultModel() (llms.Model, error) {
	if len(f.cfg.Providers) == 0 || f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}

	return NewLLM(f.defaultProvider, f.defaultProvider.DefaultModel)
}

func (f *factory) ModelByProvider(name, model string) (llms.Model, error) {
	cfg := f.cfg.Provider(name)
	if cfg == nil {
		return nil, errors.Errorf("provider not found: %s", name)
	}
	if model == "" {
		model = cfg.DefaultModel
	}
	if !cfg.HasModel(model) {
		// models not listed in the configuration are passed through
		cloned := *cfg
		cloned.AvailableModels = append([]string{model}, cfg.AvailableModels...)
		cfg = &cloned
	}
	return NewLLM(cfg, model)
}

func (f *factory) ModelByType(providerType llms.ProviderType) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if client, ok := f.byType[providerType]; ok {
		return client, nil
	}

	for _, cfg := range f.cfg.Providers {
		if llms.ProviderType(normalizeType(cfg.Type)) == providerType {
			model, err := NewLLM(cfg)
			if err != nil {
				return nil, err
			}

			logger.KV(xlog.DEBUG,
				"status", "created_llm",
				"type", cfg.Type,
				"name", cfg.Name,
				"model", model.GetName())

			f.byType[providerType] = model
			return model, nil
		}
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) ModelByName(modelNames ...string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, modelName := range modelNames {
		if client, ok := f.byName[modelName]; ok {
			return client, nil
		}

		for _, cfg := range f.cfg.Providers {
			if cfg.HasModel(modelName) {
				model, err := NewLLM(cfg, modelName)
				if err != nil {
					logger.KV(xlog.ERROR,
						"reason", "NewLLM",
						"type", cfg.Type,
						"name", cfg.Name,
						"models", modelNames,
						"err", err.Error(),
					)
					continue
				}

				logger.KV(xlog.DEBUG,
					"status", "created_llm",
					"type", cfg.Type,
					"name", cfg.Name,
					"model", modelName)

				f.byName[modelName] = model
				return model, nil
			}
		}
	}
	return f.DefaultModel()
}
