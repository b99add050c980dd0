package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llms/openai"
	"github.com/effective-security/toolmesh/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperInput struct {
	Text string `json:"text" jsonschema:"description=Text to upper case"`
}

func TestNew(t *testing.T) {
	t.Setenv(openai.TokenEnvVarName, "")
	t.Setenv(openai.ModelEnvVarName, "")
	t.Setenv(openai.BaseURLEnvVarName, "")

	_, err := openai.New(openai.WithModel("gpt-5-mini"))
	assert.ErrorIs(t, err, openai.ErrMissingToken)

	_, err = openai.New(openai.WithToken("fake"))
	assert.EqualError(t, err, "openai: model is required")

	_, err = openai.New(openai.WithToken("fake"), openai.WithModel("gpt"), openai.WithProvider(openai.ProviderAzure))
	assert.EqualError(t, err, "openai: endpoint is required for Azure")

	_, err = openai.New(openai.WithToken("fake"), openai.WithModel("gpt"), openai.WithProvider("OTHER"))
	assert.EqualError(t, err, "openai: unsupported provider: OTHER")

	tcases := []struct {
		opts []openai.Option
		exp  llms.ProviderType
	}{
		{[]openai.Option{}, llms.ProviderOpenAI},
		{[]openai.Option{openai.WithProvider(openai.ProviderAzure), openai.WithBaseURL("https://test.openai.azure.com"), openai.WithAPIVersion("2024-10-21")}, llms.ProviderAzure},
		{[]openai.Option{openai.WithProvider(openai.ProviderPerplexity)}, llms.ProviderPerplexity},
	}
	for _, tc := range tcases {
		opts := append([]openai.Option{openai.WithToken("fake"), openai.WithModel("gpt-5-mini")}, tc.opts...)
		llm, err := openai.New(opts...)
		require.NoError(t, err)
		assert.Equal(t, tc.exp, llm.GetProviderType())
		assert.Equal(t, "gpt-5-mini", llm.GetName())
	}

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("OPENAI_MODEL", "env-model")
	llm, err := openai.New()
	require.NoError(t, err)
	assert.Equal(t, "env-model", llm.GetName())
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	msgs, err := openai.ProcessMessages([]llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "be brief"),
		llms.MessageFromTextParts(llms.RoleHuman, "hi"),
		llms.MessageFromToolCalls("checking",
			llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "a", Arguments: `{}`}},
			llms.ToolCall{ID: "2", Type: "function", FunctionCall: &llms.FunctionCall{Name: "b", Arguments: `{}`}},
		),
		llms.MessageFromToolResponses(
			llms.ToolCallResponse{ToolCallID: "1", Name: "a", Content: "A"},
			llms.ToolCallResponse{ToolCallID: "2", Name: "b", Content: "B"},
		),
	})
	require.NoError(t, err)
	// system, user, assistant and one tool message per response
	assert.Len(t, msgs, 5)

	_, err = openai.ProcessMessages([]llms.Message{llms.MessageFromTextParts("unknown", "hi")})
	assert.EqualError(t, err, "openai: unsupported message role: unknown")
}

func TestGenerateContent(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer fake", r.Header.Get("Authorization"))
		assert.Equal(t, "toolmesh", r.Header.Get("X-Client"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-5-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_2",
						"type": "function",
						"function": {"name": "upper", "arguments": "{\"text\":\"again\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer srv.Close()

	llm, err := openai.New(
		openai.WithToken("fake"),
		openai.WithModel("gpt-5-mini"),
		openai.WithBaseURL(srv.URL),
		openai.WithHTTPClient(srv.Client()),
		openai.WithMaxRetries(0),
		openai.WithRequestTimeout(30*time.Second),
		openai.WithHeader("X-Client", "toolmesh"),
	)
	require.NoError(t, err)

	s, err := schema.For[upperInput]()
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(), []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "be brief"),
		llms.MessageFromTextParts(llms.RoleHuman, "upper hi"),
		llms.MessageFromToolCalls("",
			llms.ToolCall{ID: "call_1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "upper", Arguments: `{"text":"hi"}`}},
		),
		llms.MessageFromToolResponses(llms.ToolCallResponse{ToolCallID: "call_1", Name: "upper", Content: "provider is down", IsError: true}),
	},
		llms.WithMaxTokens(200),
		llms.WithToolChoice("upper"),
		llms.WithTools([]llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "upper", Description: "Upper case", Parameters: s.Parameters}}}),
	)
	require.NoError(t, err)

	assert.Equal(t, llms.StopReasonToolCalls, resp.StopReason())
	assert.True(t, resp.WantsTools())
	assert.Empty(t, resp.Text())
	calls := resp.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_2", calls[0].ID)
	assert.Equal(t, "upper", calls[0].Name())
	assert.Equal(t, `{"text":"again"}`, calls[0].Arguments())

	info := resp.Choices[0].GenerationInfo
	assert.EqualValues(t, 12, info["InputTokens"])
	assert.EqualValues(t, 7, info["OutputTokens"])
	assert.EqualValues(t, 19, info["TotalTokens"])

	assert.Equal(t, "gpt-5-mini", body["model"])
	assert.EqualValues(t, 200, body["max_completion_tokens"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	tool := messages[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, "Error: provider is down", tool["content"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "upper", fn["name"])
	assert.Equal(t, []any{"text"}, fn["parameters"].(map[string]any)["required"])

	choice := body["tool_choice"].(map[string]any)
	assert.Equal(t, "function", choice["type"])
	assert.Equal(t, "upper", choice["function"].(map[string]any)["name"])
}

func TestBuildParams_ToolChoice(t *testing.T) {
	t.Parallel()
	msgs := []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "hi")}
	tools := []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "upper"}}}

	params, err := openai.BuildParams(msgs, llms.NewCallOptions(llms.WithToolChoice("none")))
	require.NoError(t, err)
	// no tools, no choice
	assert.False(t, params.ToolChoice.OfAuto.Valid())

	params, err = openai.BuildParams(msgs, llms.NewCallOptions(llms.WithTools(tools), llms.WithToolChoice("none")))
	require.NoError(t, err)
	assert.Equal(t, "none", params.ToolChoice.OfAuto.Value)

	params, err = openai.BuildParams(msgs, llms.NewCallOptions(llms.WithTools(tools)))
	require.NoError(t, err)
	assert.False(t, params.ToolChoice.OfAuto.Valid())
	assert.Nil(t, params.ToolChoice.OfFunctionToolChoice)

	choice := openai.ToToolChoice(&llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "upper"}})
	require.NotNil(t, choice.OfFunctionToolChoice)
	assert.Equal(t, "upper", choice.OfFunctionToolChoice.Function.Name)
	assert.Equal(t, "required", openai.ToToolChoice("any").OfAuto.Value)
}

func TestGenerateContent_Empty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-5-mini","choices":[]}`))
	}))
	defer srv.Close()

	llm, err := openai.New(
		openai.WithToken("fake"),
		openai.WithModel("gpt-5-mini"),
		openai.WithBaseURL(srv.URL),
		openai.WithMaxRetries(0),
	)
	require.NoError(t, err)

	_, err = llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "hi")})
	assert.ErrorIs(t, err, openai.ErrEmptyResponse)
}

func TestGenerateContent_Retry(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After-Ms", "10")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-5-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	llm, err := openai.New(
		openai.WithToken("fake"),
		openai.WithModel("gpt-5-mini"),
		openai.WithBaseURL(srv.URL),
		openai.WithMaxRetries(1),
	)
	require.NoError(t, err)

	resp, err := llm.GenerateContent(context.Background(), []llms.Message{llms.MessageFromTextParts(llms.RoleHuman, "hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text())
	assert.Equal(t, int32(2), calls.Load())
}
