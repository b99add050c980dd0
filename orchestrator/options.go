package orchestrator

import (
	"time"

	"github.com/effective-security/toolmesh/usage"
)

// Option is a function that can be used to modify the behavior of the orchestrator Config.
type Option func(*Config)

// Config is the per run configuration.
type Config struct {
	// Model overrides the model name of the client, if set.
	Model string
	// MaxTokens is the maximum number of tokens to generate in one model call.
	MaxTokens int
	// Temperature is the temperature for sampling, between 0 and 1.
	Temperature float64
	temperatureSet bool
	// ToolChoice is passed to the model when tools are available,
	// see llms.ToolChoiceOf for the accepted values.
	ToolChoice any

	// MaxIterations bounds the number of rounds of one run.
	MaxIterations int
	// RoundDelay is the minimum interval between two model calls.
	RoundDelay time.Duration
	// ModelTimeout bounds a single model call.
	ModelTimeout time.Duration
	// ToolTimeout bounds a single tool invocation.
	ToolTimeout time.Duration

	// SummaryLen is the size of the input and output summaries in the trace.
	SummaryLen int

	// Pricing is used to compute the cost of model calls.
	Pricing usage.PriceTable

	// Callback is the handler of the run events.
	Callback Callback
}

// NewConfig returns the configuration with defaults and opts applied.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxIterations: DefaultMaxIterations,
		SummaryLen:    DefaultSummaryLen,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithModel is an option to override the model name.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
	}
}

// WithMaxTokens is an option to limit the generated tokens.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
	}
}

// WithTemperature is an option to set the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithToolChoice is an option to constrain the tool use of the model.
func WithToolChoice(choice any) Option {
	return func(o *Config) {
		o.ToolChoice = choice
	}
}

// WithMaxIterations is an option to set the round limit.
// Values below 1 keep the default.
func WithMaxIterations(n int) Option {
	return func(o *Config) {
		if n > 0 {
			o.MaxIterations = n
		}
	}
}

// WithRoundDelay is an option to space model calls by at least d.
func WithRoundDelay(d time.Duration) Option {
	return func(o *Config) {
		o.RoundDelay = d
	}
}

// WithModelTimeout is an option to bound each model call.
func WithModelTimeout(d time.Duration) Option {
	return func(o *Config) {
		o.ModelTimeout = d
	}
}

// WithToolTimeout is an option to bound each tool invocation.
func WithToolTimeout(d time.Duration) Option {
	return func(o *Config) {
		o.ToolTimeout = d
	}
}

// WithSummaryLen is an option to set the size of trace summaries.
func WithSummaryLen(n int) Option {
	return func(o *Config) {
		if n > 0 {
			o.SummaryLen = n
		}
	}
}

// WithPricing is an option to set the price table of the models.
func WithPricing(pricing usage.PriceTable) Option {
	return func(o *Config) {
		o.Pricing = pricing
	}
}

// WithCallback is an option to set the callback handler.
func WithCallback(callback Callback) Option {
	return func(o *Config) {
		o.Callback = callback
	}
}
