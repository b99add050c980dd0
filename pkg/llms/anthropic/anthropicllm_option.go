package anthropic

import (
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
)

// TokenEnvVarName names the variable New reads the API key from
// when WithToken is not used.
const TokenEnvVarName = "ANTHROPIC_API_KEY" //nolint:gosec

const (
	DefaultBaseURL        = "https://api.anthropic.com"
	DefaultMaxRetries     = 2
	DefaultRequestTimeout = 5 * time.Minute

	betaHeader = "anthropic-beta"
)

// Options hold the client settings collected by New.
type Options struct {
	Token      string
	Model      string
	BaseURL    string
	HTTPClient option.HTTPClient
	// MaxRetries is the number of times the SDK repeats a request that
	// failed with a rate limit or a server error. Zero disables retries.
	MaxRetries int
	// RequestTimeout bounds every attempt of a request.
	RequestTimeout time.Duration
	// Headers are added to every request.
	Headers map[string]string
}

type Option func(*Options)

// WithToken sets the API key, overriding ANTHROPIC_API_KEY.
func WithToken(token string) Option {
	return func(opts *Options) {
		opts.Token = token
	}
}

// WithModel sets the model used when the call does not name one.
func WithModel(model string) Option {
	return func(opts *Options) {
		opts.Model = model
	}
}

// WithBaseURL sends the requests to a gateway or a test server.
func WithBaseURL(baseURL string) Option {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *Options) {
		opts.HTTPClient = client
	}
}

// WithMaxRetries replaces DefaultMaxRetries.
func WithMaxRetries(n int) Option {
	return func(opts *Options) {
		opts.MaxRetries = n
	}
}

// WithRequestTimeout replaces DefaultRequestTimeout, a zero value keeps the default.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		if timeout > 0 {
			opts.RequestTimeout = timeout
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return func(opts *Options) {
		if opts.Headers == nil {
			opts.Headers = make(map[string]string)
		}
		opts.Headers[name] = value
	}
}

// WithBetaFeatures opts in to beta features of the API,
// like "token-efficient-tools-2025-02-19".
func WithBetaFeatures(features ...string) Option {
	return WithHeader(betaHeader, strings.Join(features, ","))
}
