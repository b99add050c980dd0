package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextParts(t *testing.T) {
	t.Parallel()
	mc := llms.MessageFromTextParts(llms.RoleHuman, "a", "b", "c")
	assert.Equal(t, llms.RoleHuman, mc.Role)
	assert.Len(t, mc.Parts, 3)
	assert.Equal(t, "a\nb\nc\n", mc.GetContent())
}

func Test_Message_JSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		msg  llms.Message
		js   string
	}{
		{
			"text",
			llms.MessageFromTextParts(llms.RoleHuman, "hello"),
			`{"role":"human","text":"hello"}`,
		},
		{
			"tool_calls",
			llms.MessageFromToolCalls("checking", llms.ToolCall{
				ID:           "call_1",
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: "read_file", Arguments: `{"path":"a.txt"}`},
			}),
			`{"role":"ai","parts":[{"type":"text","text":"checking"},{"type":"tool_call","tool_call":{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}}]}`,
		},
		{
			"tool_responses",
			llms.MessageFromToolResponses(
				llms.ToolCallResponse{ToolCallID: "call_1", Name: "read_file", Content: "data"},
				llms.ToolCallResponse{ToolCallID: "call_2", Name: "nope", Content: "not found", IsError: true},
			),
			`{"role":"human","parts":[{"type":"tool_response","tool_response":{"tool_call_id":"call_1","name":"read_file","content":"data"}},{"type":"tool_response","tool_response":{"tool_call_id":"call_2","name":"nope","content":"not found","is_error":true}}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			js, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.js, string(js))

			var back llms.Message
			require.NoError(t, json.Unmarshal(js, &back))
			assert.Equal(t, tt.msg, back)
		})
	}

	var m llms.Message
	assert.Error(t, json.Unmarshal([]byte(`{"role":"ai","parts":[{"type":"image"}]}`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"role":"ai","parts":[{"type":"tool_call"}]}`), &m))
}

func Test_ToolCall(t *testing.T) {
	t.Parallel()
	tc := llms.ToolCall{ID: "1"}
	assert.Empty(t, tc.Name())
	assert.Equal(t, "{}", tc.Arguments())
	assert.Equal(t, "ToolCall: 1 (), input: {}", tc.String())

	tc.FunctionCall = &llms.FunctionCall{Name: "x", Arguments: " "}
	assert.Equal(t, "{}", tc.Arguments())
}

func Test_ContentResponse(t *testing.T) {
	t.Parallel()

	var nilResp *llms.ContentResponse
	assert.Empty(t, nilResp.Text())
	assert.Empty(t, nilResp.ToolCalls())
	assert.False(t, nilResp.WantsTools())

	resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{
		{Content: "thinking", StopReason: llms.StopReasonEndTurn},
	}}
	assert.Equal(t, "thinking", resp.Text())
	assert.False(t, resp.WantsTools())

	resp.Choices[0].StopReason = llms.StopReasonToolCalls
	assert.True(t, resp.WantsTools())

	resp = &llms.ContentResponse{Choices: []*llms.ContentChoice{
		{Content: "a"},
		{ToolCalls: []llms.ToolCall{{ID: "1"}, {ID: "2"}}},
		{Content: "b"},
	}}
	assert.Equal(t, "a\nb", resp.Text())
	assert.Len(t, resp.ToolCalls(), 2)
	assert.True(t, resp.WantsTools())
}

func Test_ValidateToolPairing(t *testing.T) {
	t.Parallel()

	call := func(id string) llms.ToolCall {
		return llms.ToolCall{ID: id, FunctionCall: &llms.FunctionCall{Name: "t"}}
	}
	resp := func(id string) llms.ToolCallResponse {
		return llms.ToolCallResponse{ToolCallID: id, Name: "t"}
	}

	ok := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "go"),
		llms.MessageFromToolCalls("", call("1"), call("2")),
		llms.MessageFromToolResponses(resp("2"), resp("1")),
		llms.MessageFromTextParts(llms.RoleAI, "done"),
	}
	assert.NoError(t, llms.ValidateToolPairing(ok))

	missing := []llms.Message{
		llms.MessageFromToolCalls("", call("1"), call("2")),
		llms.MessageFromToolResponses(resp("1")),
	}
	assert.EqualError(t, llms.ValidateToolPairing(missing), "message 0: 2 tool calls answered by 1 responses")

	wrongID := []llms.Message{
		llms.MessageFromToolCalls("", call("1")),
		llms.MessageFromToolResponses(resp("9")),
	}
	assert.EqualError(t, llms.ValidateToolPairing(wrongID), `message 1: unexpected tool response "9"`)

	pending := []llms.Message{llms.MessageFromToolCalls("", call("1"))}
	assert.NoError(t, llms.ValidateToolPairing(pending))
}

func TestOptions(t *testing.T) {
	t.Parallel()
	tools := []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "test"}}}
	o := llms.NewCallOptions(
		llms.WithModel("m"),
		llms.WithMaxTokens(100),
		llms.WithTemperature(0.5),
		llms.WithStopWords([]string{"stop"}),
		llms.WithTopP(0.9),
		llms.WithTools(tools),
		llms.WithToolChoice("auto"),
	)
	assert.Equal(t, "m", o.Model)
	assert.Equal(t, 100, o.MaxTokens)
	assert.Equal(t, 0.5, o.Temperature)
	assert.Equal(t, []string{"stop"}, o.StopWords)
	assert.Equal(t, 0.9, o.TopP)
	assert.Equal(t, tools, o.Tools)
	assert.Equal(t, "auto", o.ToolChoice)
}

func TestToolChoiceOf(t *testing.T) {
	t.Parallel()
	tcases := []struct {
		choice any
		mode   string
		name   string
	}{
		{nil, "", ""},
		{"", "", ""},
		{"auto", llms.ToolChoiceAuto, ""},
		{"none", llms.ToolChoiceNone, ""},
		{"required", llms.ToolChoiceRequired, ""},
		{"any", llms.ToolChoiceRequired, ""},
		{"read_file", llms.ToolChoiceFunction, "read_file"},
		{llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "f"}}, llms.ToolChoiceFunction, "f"},
		{&llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "g"}}, llms.ToolChoiceFunction, "g"},
		{&llms.ToolChoice{Type: "function"}, "", ""},
		{(*llms.ToolChoice)(nil), "", ""},
		{42, "", ""},
	}
	for _, tc := range tcases {
		mode, name := llms.ToolChoiceOf(tc.choice)
		assert.Equal(t, tc.mode, mode, "%v", tc.choice)
		assert.Equal(t, tc.name, name, "%v", tc.choice)
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	assert.True(t, llms.ProviderAnthropic.Supports(llms.CapabilityFunctionCalling))
	assert.True(t, llms.ProviderOpenAI.Supports(llms.CapabilityMultiToolCalling))
	assert.False(t, llms.ProviderPerplexity.Supports(llms.CapabilityFunctionCalling))
	assert.False(t, llms.ProviderType("unknown").Supports(llms.CapabilityText))
}
