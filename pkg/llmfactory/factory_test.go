package llmfactory_test

import (
	"context"
	"testing"
	"time"

	"github.com/effective-security/toolmesh/pkg/llmfactory"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTokens(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	t.Setenv("AZURE_OPENAI_API_KEY", "fakekey")
	t.Setenv("PERPLEXITY_API_KEY", "fakekey")
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
}

func Test_Factory(t *testing.T) {
	setTokens(t)

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 4)
	assert.Equal(t, "fakekey", cfg.Providers[0].Token)

	created := 0
	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		created++
		return &fakeLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	defer func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	}()

	f := llmfactory.New(cfg)

	assertModel := func(model llms.Model, err error, expProvider, expModel string) {
		t.Helper()
		require.NoError(t, err)
		require.NotNil(t, model)
		fm := model.(*fakeLLM)
		assert.Equal(t, expModel, fm.model)
		assert.Equal(t, expProvider, fm.provider)
	}

	model, err := f.DefaultModel()
	assertModel(model, err, "OPENAI", "gpt-4o")

	model, err = f.ModelByName("gpt-4o-mini")
	assertModel(model, err, "OPENAI", "gpt-4o-mini")

	// the first known model wins
	model, err = f.ModelByName("gpt-unknown", "gpt-41-mini", "sonar")
	assertModel(model, err, "AZURE", "gpt-41-mini")

	// unknown models fall back to the default
	model, err = f.ModelByName("non-existent-model")
	assertModel(model, err, "OPENAI", "gpt-4o")

	// cached by name
	before := created
	model, err = f.ModelByName("gpt-41-mini")
	assertModel(model, err, "AZURE", "gpt-41-mini")
	assert.Equal(t, before, created)

	model, err = f.ModelByType("OPEN_AI")
	assertModel(model, err, "OPENAI", "gpt-4o")
	model, err = f.ModelByType("azure")
	assertModel(model, err, "AZURE", "gpt-41")
	model, err = f.ModelByType("PERPLEXITY")
	assertModel(model, err, "PERPLEXITY", "sonar")
	model, err = f.ModelByType("ANTHROPIC")
	assertModel(model, err, "ANTHROPIC", "claude-sonnet-4-5")

	_, err = f.ModelByType("UNSUPPORTED")
	assert.EqualError(t, err, "provider not found for type: UNSUPPORTED")

	_, err = llmfactory.New(&llmfactory.Config{}).DefaultModel()
	assert.EqualError(t, err, "no providers configured")

	model, err = llmfactory.New(&llmfactory.Config{
		DefaultProvider: "ANTHROPIC",
		Providers:       cfg.Providers,
	}).DefaultModel()
	assertModel(model, err, "ANTHROPIC", "claude-sonnet-4-5")

	model, err = llmfactory.New(&llmfactory.Config{
		DefaultProvider: "non-existent",
		Providers:       cfg.Providers,
	}).DefaultModel()
	assertModel(model, err, "OPENAI", "gpt-4o")
}

func Test_Load(t *testing.T) {
	setTokens(t)

	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)

	model, err := f.DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderOpenAI, model.GetProviderType())
	assert.Equal(t, "gpt-4o", model.GetName())

	model, err = f.ModelByName("claude-haiku-4-5")
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, model.GetProviderType())
	assert.Equal(t, "claude-haiku-4-5", model.GetName())

	model, err = f.ModelByType("AZURE")
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAzure, model.GetProviderType())

	model, err = f.ModelByType("PERPLEXITY")
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderPerplexity, model.GetProviderType())

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)
}

func Test_LoadConfig(t *testing.T) {
	cfg, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)
	assert.Nil(t, cfg.Provider("OPENAI"))

	setTokens(t)
	cfg, err = llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	claude := cfg.Provider("ANTHROPIC")
	require.NotNil(t, claude)
	require.NotNil(t, claude.MaxRetries)
	assert.Equal(t, 3, *claude.MaxRetries)
	assert.Equal(t, map[string]string{"anthropic-beta": "token-efficient-tools-2025-02-19"}, claude.Headers)
	assert.Nil(t, cfg.Provider("OPENAI").MaxRetries)
	assert.Nil(t, cfg.Provider(""))

	_, err = llmfactory.LoadConfig("testdata/non-existent.yaml")
	require.Error(t, err)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)
}

func Test_CreateLLM(t *testing.T) {
	setTokens(t)

	cfg := &llmfactory.ProviderConfig{
		Name:            "test-provider",
		AvailableModels: []string{"gpt-4o", "gpt-4o-mini"},
		DefaultModel:    "gpt-4o",
		OpenAI: llmfactory.OpenAIConfig{
			APIType: "OPEN_AI",
			OrgID:   "org",
		},
	}

	model, err := llmfactory.CreateLLM(cfg, "unknown", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model.GetName())
	assert.Equal(t, llms.ProviderOpenAI, model.GetProviderType())

	// Azure requires the endpoint
	cfg.OpenAI.APIType = "AZURE"
	_, err = llmfactory.CreateLLM(cfg)
	assert.EqualError(t, err, "openai: endpoint is required for Azure")

	cfg.OpenAI.BaseURL = "https://toolmesh.openai.azure.com"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAzure, model.GetProviderType())

	cfg.OpenAI.APIType = "ANTHROPIC"
	cfg.DefaultModel = "claude-sonnet-4-5"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, model.GetProviderType())
	assert.Equal(t, "claude-sonnet-4-5", model.GetName())

	retries := 0
	cfg.MaxRetries = &retries
	cfg.RequestTimeout = time.Minute
	cfg.Headers = map[string]string{"anthropic-beta": "tools-1"}
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	claude, ok := model.(*anthropic.LLM)
	require.True(t, ok)
	assert.Equal(t, 0, claude.Options.MaxRetries)
	assert.Equal(t, time.Minute, claude.Options.RequestTimeout)
	assert.Equal(t, "tools-1", claude.Options.Headers["anthropic-beta"])

	cfg.OpenAI.APIType = "OPENAI"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderOpenAI, model.GetProviderType())

	cfg.OpenAI.APIType = "BEDROCK"
	_, err = llmfactory.CreateLLM(cfg)
	assert.EqualError(t, err, "unsupported provider type: BEDROCK")
}

type fakeLLM struct {
	provider string
	model    string
}

func (f *fakeLLM) GetName() string {
	return f.model
}

func (f *fakeLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderFake
}

func (f *fakeLLM) GenerateContent(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.model, StopReason: llms.StopReasonEndTurn}},
	}, nil
}
