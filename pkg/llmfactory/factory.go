package llmfactory

import (
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llms/anthropic"
	"github.com/effective-security/toolmesh/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "llmfactory")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// Factory is the interface for creating and managing LLM models.
type Factory interface {
	// DefaultModel returns the default LLM model.
	DefaultModel() (llms.Model, error)
	// ModelByType returns an LLM model by its provider type, e.g.
	// OPENAI, AZURE, PERPLEXITY, ANTHROPIC
	ModelByType(providerType string) (llms.Model, error)
	// ModelByName returns the first of preferred models found at a provider,
	// if none is found, it will return the default model.
	ModelByName(preferredModels ...string) (llms.Model, error)
}

// Load returns a factory from the config file
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
	byType          map[string]llms.Model
	byName          map[string]llms.Model
	lock            sync.Mutex
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	f := &factory{
		cfg:    cfg,
		byType: make(map[string]llms.Model),
		byName: make(map[string]llms.Model),
	}

	f.defaultProvider = cfg.Provider(cfg.DefaultProvider)
	if f.defaultProvider == nil && len(f.cfg.Providers) > 0 {
		f.defaultProvider = f.cfg.Providers[0]
	}

	return f
}

// normalizeType returns the upper case provider type,
// with OPEN_AI accepted as OPENAI.
func normalizeType(typ string) string {
	typ = strings.ToUpper(typ)
	if typ == "OPEN_AI" {
		return string(llms.ProviderOpenAI)
	}
	return typ
}

// CreateLLM returns a model of the provider,
// the first of preferredModels available at the provider is used.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	model := cfg.FindModel(preferredModels...)
	switch typ := normalizeType(cfg.OpenAI.APIType); llms.ProviderType(typ) {
	case llms.ProviderOpenAI:
		return newOpenAI(cfg, model, openai.ProviderOpenAI)
	case llms.ProviderAzure:
		return newOpenAI(cfg, model, openai.ProviderAzure)
	case llms.ProviderPerplexity:
		return newOpenAI(cfg, model, openai.ProviderPerplexity)
	case llms.ProviderAnthropic:
		return newAnthropic(cfg, model)
	default:
		return nil, errors.Errorf("unsupported provider type: %s", typ)
	}
}

func newOpenAI(cfg *ProviderConfig, model string, provider openai.ProviderType) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithProvider(provider),
		openai.WithModel(model),
	}
	if cfg.Token != "" {
		opts = append(opts, openai.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.APIVersion != "" {
		opts = append(opts, openai.WithAPIVersion(cfg.OpenAI.APIVersion))
	}
	if cfg.OpenAI.OrgID != "" {
		opts = append(opts, openai.WithOrganization(cfg.OpenAI.OrgID))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, openai.WithMaxRetries(*cfg.MaxRetries))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, openai.WithRequestTimeout(cfg.RequestTimeout))
	}
	for name, value := range cfg.Headers {
		opts = append(opts, openai.WithHeader(name, value))
	}
	return openai.New(opts...)
}

func newAnthropic(cfg *ProviderConfig, model string) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(model),
	}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, anthropic.WithMaxRetries(*cfg.MaxRetries))
	}
	for name, value := range cfg.Headers {
		opts = append(opts, anthropic.WithHeader(name, value))
	}
	opts = append(opts, anthropic.WithRequestTimeout(cfg.RequestTimeout))
	return anthropic.New(opts...)
}

// DefaultModel returns the default model of the default provider
func (f *factory) DefaultModel() (llms.Model, error) {
	if len(f.cfg.Providers) == 0 || f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}

	return NewLLM(f.defaultProvider, f.defaultProvider.DefaultModel)
}

func (f *factory) ModelByType(providerType string) (llms.Model, error) {
	typ := normalizeType(providerType)

	f.lock.Lock()
	defer f.lock.Unlock()

	if client, ok := f.byType[typ]; ok {
		return client, nil
	}

	for _, cfg := range f.cfg.Providers {
		if normalizeType(cfg.OpenAI.APIType) == typ {
			model, err := NewLLM(cfg)
			if err != nil {
				return nil, err
			}

			logger.KV(xlog.DEBUG,
				"status", "created_llm",
				"type", typ,
				"version", cfg.OpenAI.APIVersion,
				"name", cfg.Name)

			f.byType[typ] = model
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
			if !slices.Contains(cfg.AvailableModels, modelName) {
				continue
			}
			model, err := NewLLM(cfg, modelName)
			if err != nil {
				logger.KV(xlog.ERROR,
					"reason", "NewLLM",
					"type", cfg.OpenAI.APIType,
					"model", modelName,
					"err", err.Error(),
				)
				continue
			}

			logger.KV(xlog.DEBUG,
				"status", "created_llm",
				"type", cfg.OpenAI.APIType,
				"version", cfg.OpenAI.APIVersion,
				"name", cfg.Name,
				"model", modelName)

			f.byName[modelName] = model
			return model, nil
		}
	}
	return f.DefaultModel()
}
