package llmfactory

import (
	"slices"
	"time"

	"github.com/effective-security/x/configloader"
)

// Config lists the model providers available to the factory.
type Config struct {
	Providers []*ProviderConfig `json:"providers" yaml:"providers"`
	// DefaultProvider names the provider used by DefaultModel,
	// the first one when empty or unknown.
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
}

// Provider returns the provider with the given name, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	if name == "" {
		return nil
	}
	for _, p := range c.Providers {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// ProviderConfig describes one account at a model vendor.
type ProviderConfig struct {
	Name string `json:"name" yaml:"name"`
	// Token is the API key, the vendor environment variable is used when empty.
	Token           string   `json:"token,omitempty" yaml:"token,omitempty"`
	DefaultModel    string   `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string `json:"available_models,omitempty" yaml:"available_models,omitempty"`

	// MaxRetries overrides the SDK retry count, 0 disables retries.
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	// RequestTimeout bounds every attempt of a model call.
	RequestTimeout time.Duration `json:"request_timeout,omitempty" yaml:"request_timeout,omitempty"`
	// Headers are added to every request, e.g. anthropic-beta.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	OpenAI OpenAIConfig `json:"open_ai" yaml:"open_ai"`
}

// OpenAIConfig holds the endpoint settings. The block is named after the
// OpenAI wire format but also selects the Anthropic adapter.
type OpenAIConfig struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// APIVersion is used by AZURE only.
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// APIType is one of OPENAI, AZURE, PERPLEXITY or ANTHROPIC.
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty"`
	// OrgID is the OpenAI organization billed for the calls.
	OrgID string `json:"org_id,omitempty" yaml:"org_id,omitempty"`
}

// FindModel returns the first of models the provider offers,
// DefaultModel otherwise.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// LoadConfig reads the providers file, environment references in the
// values are expanded. An empty file name returns an empty config.
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
