// Package llmfactory creates llms.Model instances from a configuration of
// providers (OpenAI, Azure, Perplexity and Anthropic) and selects models by
// provider type or by name.
package llmfactory
