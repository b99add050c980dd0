// Package config loads the toolmesh configuration file.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/orchestrator"
	"github.com/effective-security/toolmesh/pkg/llmfactory"
	"github.com/effective-security/toolmesh/providers/files"
	"github.com/effective-security/toolmesh/providers/shell"
	"github.com/effective-security/toolmesh/providers/websearch"
	"github.com/effective-security/toolmesh/registry"
	"github.com/effective-security/toolmesh/store"
	"github.com/effective-security/toolmesh/usage"
	"github.com/effective-security/x/values"
	"gopkg.in/yaml.v3"
)

// DefaultRoundDelay is the minimum interval between model calls of a run.
const DefaultRoundDelay = 250 * time.Millisecond

// ProviderConfig specifies a tool provider process.
type ProviderConfig = registry.ProviderConfig

// Config is the root of the configuration file.
type Config struct {
	// Providers are started and registered in order,
	// the first provider wins a tool name declared more than once.
	Providers    []ProviderConfig   `json:"providers,omitempty" yaml:"providers,omitempty"`
	Orchestrator Orchestrator       `json:"orchestrator" yaml:"orchestrator"`
	LLM          *llmfactory.Config `json:"llm,omitempty" yaml:"llm,omitempty"`
	Pricing      usage.PriceTable   `json:"pricing,omitempty" yaml:"pricing,omitempty"`

	// settings of the built-in providers, see `toolmesh provider`
	Store     store.Config     `json:"store" yaml:"store"`
	Shell     shell.Config     `json:"shell" yaml:"shell"`
	Files     files.Config     `json:"files" yaml:"files"`
	WebSearch websearch.Config `json:"web_search" yaml:"web_search"`
}

// Orchestrator specifies the defaults of a run.
type Orchestrator struct {
	// Model overrides the default model of the LLM provider.
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	// ToolChoice is auto, none, required or the name of a tool.
	ToolChoice string `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	// MaxIterations defaults to orchestrator.DefaultMaxIterations.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// RoundDelay defaults to DefaultRoundDelay, a negative value disables it.
	RoundDelay   time.Duration `json:"round_delay,omitempty" yaml:"round_delay,omitempty"`
	ModelTimeout time.Duration `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty"`
	ToolTimeout  time.Duration `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	SummaryLen   int           `json:"summary_len,omitempty" yaml:"summary_len,omitempty"`
}

// Load returns the configuration from file, with environment variables
// expanded and defaults applied. An empty file name returns the defaults.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err = Parse(b, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load %s", file)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes the YAML document into cfg,
// ${VAR} and $VAR references are replaced with the environment values.
// Unknown fields are an error.
func Parse(b []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(b))
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// SetDefaults fills the unset values.
func (c *Config) SetDefaults() {
	o := &c.Orchestrator
	o.MaxIterations = int(values.NumbersCoalesce(int64(o.MaxIterations), int64(orchestrator.DefaultMaxIterations)))
	o.SummaryLen = int(values.NumbersCoalesce(int64(o.SummaryLen), int64(orchestrator.DefaultSummaryLen)))
	switch {
	case o.RoundDelay == 0:
		o.RoundDelay = DefaultRoundDelay
	case o.RoundDelay < 0:
		o.RoundDelay = 0
	}
	if c.LLM == nil {
		c.LLM = new(llmfactory.Config)
	}
}

// Validate returns an error if the configuration is not usable.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, p := range c.Providers {
		if p.ID == "" {
			return errors.Errorf("providers[%d]: id is required", i)
		}
		if p.Command == "" {
			return errors.Errorf("provider %s: command is required", p.ID)
		}
		if seen[p.ID] {
			return errors.WithMessage(registry.ErrDuplicateProvider, p.ID)
		}
		seen[p.ID] = true
	}
	if c.Orchestrator.Temperature != nil {
		if t := *c.Orchestrator.Temperature; t < 0 || t > 2 {
			return errors.Errorf("temperature must be between 0 and 2: %v", t)
		}
	}
	return nil
}

// Options returns the orchestrator options of the configuration.
func (c *Config) Options() []orchestrator.Option {
	o := c.Orchestrator
	opts := []orchestrator.Option{
		orchestrator.WithMaxIterations(o.MaxIterations),
		orchestrator.WithRoundDelay(o.RoundDelay),
		orchestrator.WithSummaryLen(o.SummaryLen),
	}
	if o.Model != "" {
		opts = append(opts, orchestrator.WithModel(o.Model))
	}
	if o.MaxTokens > 0 {
		opts = append(opts, orchestrator.WithMaxTokens(o.MaxTokens))
	}
	if o.Temperature != nil {
		opts = append(opts, orchestrator.WithTemperature(*o.Temperature))
	}
	if o.ToolChoice != "" {
		opts = append(opts, orchestrator.WithToolChoice(o.ToolChoice))
	}
	if o.ModelTimeout > 0 {
		opts = append(opts, orchestrator.WithModelTimeout(o.ModelTimeout))
	}
	if o.ToolTimeout > 0 {
		opts = append(opts, orchestrator.WithToolTimeout(o.ToolTimeout))
	}
	if len(c.Pricing) > 0 {
		opts = append(opts, orchestrator.WithPricing(c.Pricing))
	}
	return opts
}

// EnabledProviders returns the providers that are not disabled.
func (c *Config) EnabledProviders() []ProviderConfig {
	var list []ProviderConfig
	for _, p := range c.Providers {
		if !p.Disabled {
			list = append(list, p)
		}
	}
	return list
}
