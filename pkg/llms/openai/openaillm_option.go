package openai

import (
	"net/http"
	"time"
)

// Environment variables read by New, explicit options take precedence.
const (
	TokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	ModelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	BaseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	OrganizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

// ProviderType selects the flavor of the Chat Completions endpoint.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "OPENAI"
	ProviderAzure      ProviderType = "AZURE"
	ProviderPerplexity ProviderType = "PERPLEXITY"
)

const (
	// DefaultAPIVersion is sent to Azure deployments.
	DefaultAPIVersion        = "2024-10-21"
	DefaultPerplexityBaseURL = "https://api.perplexity.ai"
	DefaultMaxRetries        = 2
)

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	provider     ProviderType
	httpClient   *http.Client
	maxRetries   int
	// zero leaves the SDK default
	requestTimeout time.Duration
	headers        map[string]string

	// Azure only
	apiVersion string
}

// Option configures New.
type Option func(*options)

// WithToken sets the API key, overriding OPENAI_API_KEY.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel sets the model used when the call does not name one,
// overriding OPENAI_MODEL. Azure expects the deployment name here.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL overrides OPENAI_BASE_URL.
// Azure expects the resource endpoint here.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithOrganization bills the calls to an organization, OpenAI only.
func WithOrganization(organization string) Option {
	return func(opts *options) {
		opts.organization = organization
	}
}

// WithProvider selects the endpoint flavor, ProviderOpenAI when not set.
func WithProvider(provider ProviderType) Option {
	return func(opts *options) {
		opts.provider = provider
	}
}

// WithAPIVersion replaces DefaultAPIVersion for Azure.
func WithAPIVersion(apiVersion string) Option {
	return func(opts *options) {
		opts.apiVersion = apiVersion
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithMaxRetries replaces DefaultMaxRetries, zero disables retries.
func WithMaxRetries(n int) Option {
	return func(opts *options) {
		opts.maxRetries = n
	}
}

// WithRequestTimeout bounds every attempt of a request.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.requestTimeout = timeout
	}
}

// WithHeader adds a header to every request.
func WithHeader(name, value string) Option {
	return func(opts *options) {
		if opts.headers == nil {
			opts.headers = make(map[string]string)
		}
		opts.headers[name] = value
	}
}
