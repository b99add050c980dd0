package orchestrator_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mocks/mockllms"
	"github.com/effective-security/toolmesh/orchestrator"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/registry"
	"github.com/effective-security/toolmesh/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeRegistry routes every declared tool to the invoke func.
type fakeRegistry struct {
	tools  []registry.RoutedTool
	invoke func(ctx context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error)
}

func newFakeRegistry(invoke func(ctx context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error), names ...string) *fakeRegistry {
	f := &fakeRegistry{invoke: invoke}
	for _, name := range names {
		f.tools = append(f.tools, registry.RoutedTool{
			ProviderID: "p_" + name,
			Tool: protocol.Tool{
				Name:        name,
				Description: "tool " + name,
				InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
			},
		})
	}
	return f
}

func (f *fakeRegistry) Tools() []registry.RoutedTool {
	return f.tools
}

func (f *fakeRegistry) Resolve(name string) (string, bool) {
	for _, t := range f.tools {
		if t.Name == name {
			return t.ProviderID, true
		}
	}
	return "", false
}

func (f *fakeRegistry) Invoke(ctx context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	return f.invoke(ctx, providerID, name, args)
}

func echoInvoke(_ context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	return protocol.TextResult(providerID + "/" + name + ":" + string(args)), nil
}

func generationInfo(in, out int64) map[string]any {
	return map[string]any{
		"InputTokens":  in,
		"OutputTokens": out,
	}
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        text,
		StopReason:     llms.StopReasonEndTurn,
		GenerationInfo: generationInfo(10, 5),
	}}}
}

func toolResponse(text string, calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        text,
		StopReason:     llms.StopReasonToolUse,
		GenerationInfo: generationInfo(20, 10),
		ToolCalls:      calls,
	}}}
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{ID: id, Type: "function", FunctionCall: &llms.FunctionCall{Name: name, Arguments: args}}
}

// scripted returns the responses in order and records the requests.
type scripted struct {
	lock      sync.Mutex
	responses []*llms.ContentResponse
	calls     [][]llms.Message
	options   []*llms.CallOptions
}

func (s *scripted) generate(_ context.Context, messages []llms.Message, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.calls = append(s.calls, append([]llms.Message(nil), messages...))
	s.options = append(s.options, llms.NewCallOptions(opts...))
	if len(s.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func newModel(t *testing.T, s *scripted) *mockllms.MockModel {
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("test-model").AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(s.generate).AnyTimes()
	return m
}

func TestExecute_TextOnly(t *testing.T) {
	t.Parallel()

	s := &scripted{responses: []*llms.ContentResponse{textResponse("hello there")}}
	o := orchestrator.New(newModel(t, s), nil)

	res, err := o.Execute(context.Background(), &orchestrator.Request{
		Prompt:       "hi",
		SystemPrompt: "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.FinalAnswer)
	assert.Equal(t, 1, res.IterationsUsed)
	assert.False(t, res.HitIterationLimit)
	assert.Empty(t, res.Trace)
	assert.Equal(t, usage.Record{InputUnits: 10, OutputUnits: 5, TotalUnits: 15, LatencyMs: res.TotalUsage.LatencyMs}, res.TotalUsage)

	require.Len(t, res.Conversation, 2)
	assert.Equal(t, llms.RoleHuman, res.Conversation[0].Role)
	assert.Equal(t, llms.RoleAI, res.Conversation[1].Role)
	assert.Equal(t, []llms.ContentPart{llms.TextPart("hello there")}, res.Conversation[1].Parts)

	// the system prompt is sent first and is not part of the conversation
	require.Len(t, s.calls, 1)
	require.Len(t, s.calls[0], 2)
	assert.Equal(t, llms.RoleSystem, s.calls[0][0].Role)
	assert.Equal(t, llms.RoleHuman, s.calls[0][1].Role)

	// no tools without providers
	assert.Empty(t, s.options[0].Tools)
}

func TestExecute_EmptyFinalText(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(echoInvoke, "echo")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("a", "echo", `{"text":"1"}`)),
		textResponse(""),
	}}
	o := orchestrator.New(newModel(t, s), reg)

	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Empty(t, res.FinalAnswer)
	assert.Equal(t, 2, res.IterationsUsed)

	// prompt, assistant tool calls, tool results and no empty assistant turn
	require.Len(t, res.Conversation, 3)
	assert.Equal(t, llms.RoleHuman, res.Conversation[2].Role)
	require.NoError(t, llms.ValidateToolPairing(res.Conversation))
}

func TestExecute_ToolChoice(t *testing.T) {
	t.Parallel()

	s := &scripted{responses: []*llms.ContentResponse{textResponse("ok")}}
	o := orchestrator.New(newModel(t, s), nil)

	// without tools the choice is not sent
	_, err := o.Execute(context.Background(), &orchestrator.Request{
		Prompt:  "hi",
		Options: []orchestrator.Option{orchestrator.WithToolChoice(llms.ToolChoiceRequired)},
	})
	require.NoError(t, err)
	require.Len(t, s.options, 1)
	assert.Nil(t, s.options[0].ToolChoice)

	reg := newFakeRegistry(echoInvoke, "echo")
	o = orchestrator.New(newModel(t, s), reg)
	_, err = o.Execute(context.Background(), &orchestrator.Request{
		Prompt:  "hi",
		Options: []orchestrator.Option{orchestrator.WithToolChoice("echo")},
	})
	require.NoError(t, err)
	require.Len(t, s.options, 2)
	require.Len(t, s.options[1].Tools, 1)
	assert.Equal(t, "echo", s.options[1].ToolChoice)
}

func TestExecute_ToolRound(t *testing.T) {
	t.Parallel()

	var (
		lock      sync.Mutex
		completed []string
	)
	reg := newFakeRegistry(func(_ context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
		// the first request completes last
		if name == "slow" {
			time.Sleep(100 * time.Millisecond)
		}
		lock.Lock()
		completed = append(completed, name)
		lock.Unlock()
		if name == "broken" {
			return protocol.ErrorResult("bad input"), nil
		}
		return protocol.TextResult(providerID + ":" + string(args)), nil
	}, "slow", "fast", "broken")

	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("let me check",
			toolCall("a", "slow", `{"text":"1"}`),
			toolCall("", "fast", `{"text":"2"}`),
			toolCall("c", "broken", `{"text":"3"}`),
		),
		textResponse("done"),
	}}
	o := orchestrator.New(newModel(t, s), reg).WithName("tester")
	assert.Equal(t, "tester", o.Name())

	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.FinalAnswer)
	assert.Equal(t, 2, res.IterationsUsed)
	assert.False(t, res.HitIterationLimit)

	// prompt, assistant tool calls, tool results, final answer
	require.Len(t, res.Conversation, 4)
	require.NoError(t, llms.ValidateToolPairing(res.Conversation))

	calls := res.Conversation[1].ToolCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, "a", calls[0].ID)
	assert.True(t, strings.HasPrefix(calls[1].ID, "call_"))
	assert.Equal(t, "c", calls[2].ID)

	results := res.Conversation[2]
	assert.Equal(t, llms.RoleHuman, results.Role)
	responses := results.ToolResponses()
	require.Len(t, responses, 3)
	assert.Equal(t, "a", responses[0].ToolCallID)
	assert.Equal(t, `p_slow:{"text":"1"}`, responses[0].Content)
	assert.False(t, responses[0].IsError)
	assert.Equal(t, calls[1].ID, responses[1].ToolCallID)
	assert.Equal(t, "c", responses[2].ToolCallID)
	assert.True(t, responses[2].IsError)
	assert.Equal(t, "bad input", responses[2].Content)

	require.Len(t, res.Trace, 3)
	for i, e := range res.Trace {
		assert.Equal(t, 1, e.Round)
		assert.Equal(t, calls[i].ID, e.RequestID)
		assert.Equal(t, "p_"+e.ToolName, e.ProviderID)
	}
	assert.GreaterOrEqual(t, res.Trace[0].ElapsedMs, int64(100))
	assert.Equal(t, `{"text":"1"}`, res.Trace[0].InputSummary)
	assert.Len(t, res.Failed(), 1)

	// the slow call was issued first but completed last
	lock.Lock()
	assert.Equal(t, "slow", completed[2])
	lock.Unlock()

	// usage of both rounds, no pricing for the model
	assert.Equal(t, int64(30), res.TotalUsage.InputUnits)
	assert.Equal(t, int64(15), res.TotalUsage.OutputUnits)
	assert.Equal(t, int64(45), res.TotalUsage.TotalUnits)
	assert.Zero(t, res.TotalUsage.TotalCost)

	// tool declarations are sent with every call
	require.Len(t, s.options, 2)
	require.Len(t, s.options[0].Tools, 3)
	fn := s.options[0].Tools[0].Function
	assert.Equal(t, "slow", fn.Name)
	assert.Equal(t, "tool slow", fn.Description)
	assert.Equal(t, []string{"text"}, fn.Parameters.Required)
}

func TestExecute_Pricing(t *testing.T) {
	t.Parallel()

	s := &scripted{responses: []*llms.ContentResponse{textResponse("ok")}}
	o := orchestrator.New(newModel(t, s), nil, orchestrator.WithPricing(usage.PriceTable{
		"test-": {InputPerMillion: 1e5, OutputPerMillion: 2e5},
	}))

	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.TotalUsage.InputCost, 1e-9)
	assert.InDelta(t, 1.0, res.TotalUsage.OutputCost, 1e-9)
	assert.InDelta(t, 2.0, res.TotalUsage.TotalCost, 1e-9)

	// the per run model overrides the pricing lookup
	s.responses = []*llms.ContentResponse{textResponse("ok")}
	res, err = o.Execute(context.Background(), &orchestrator.Request{
		Prompt:  "go",
		Options: []orchestrator.Option{orchestrator.WithModel("other"), orchestrator.WithMaxTokens(100), orchestrator.WithTemperature(0)},
	})
	require.NoError(t, err)
	assert.Zero(t, res.TotalUsage.TotalCost)

	last := s.options[len(s.options)-1]
	assert.Equal(t, "other", last.Model)
	assert.Equal(t, 100, last.MaxTokens)
}

func TestExecute_UnknownTool(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(echoInvoke, "echo")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "imaginary", `{}`), toolCall("2", "echo", `{"text":"x"}`)),
		textResponse("sorry"),
	}}
	o := orchestrator.New(newModel(t, s), reg)

	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.FinalAnswer)

	responses := res.Conversation[2].ToolResponses()
	require.Len(t, responses, 2)
	assert.True(t, responses[0].IsError)
	assert.Contains(t, responses[0].Content, "Tool `imaginary` not found")
	assert.Contains(t, responses[0].Content, "echo")
	assert.False(t, responses[1].IsError)

	assert.Empty(t, res.Trace[0].ProviderID)
	assert.True(t, res.Trace[0].IsError)
}

func TestExecute_InvalidArguments(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(func(context.Context, string, string, json.RawMessage) (*protocol.CallToolResult, error) {
		t.Error("must not be invoked")
		return nil, nil
	}, "echo")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "echo", `[1,2]`)),
		textResponse("ok"),
	}}
	o := orchestrator.New(newModel(t, s), reg)

	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	responses := res.Conversation[2].ToolResponses()
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsError)
	assert.Contains(t, responses[0].Content, "Invalid arguments for `echo`")
}

func TestExecute_InvocationFailure(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(func(context.Context, string, string, json.RawMessage) (*protocol.CallToolResult, error) {
		return nil, &registry.InvocationError{ProviderID: "p_echo", Tool: "echo", Err: errors.New("pipe closed")}
	}, "echo")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "echo", `{"text":"x"}`)),
		textResponse("the tool is down"),
	}}
	o := orchestrator.New(newModel(t, s), reg)

	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, "the tool is down", res.FinalAnswer)

	responses := res.Conversation[2].ToolResponses()
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsError)
	assert.Equal(t, "Tool `echo` could not be reached: failed to invoke echo on provider p_echo: pipe closed", responses[0].Content)
}

func TestExecute_IterationLimit(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(echoInvoke, "echo")
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("test-model").AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolResponse("still working", toolCall("", "echo", `{"text":"again"}`)), nil).
		Times(3)

	o := orchestrator.New(m, reg, orchestrator.WithMaxIterations(3))
	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "loop"})
	require.NoError(t, err)
	assert.True(t, res.HitIterationLimit)
	assert.Equal(t, 3, res.IterationsUsed)
	assert.Equal(t, "still working", res.FinalAnswer)

	require.Len(t, res.Trace, 3)
	for i, e := range res.Trace {
		assert.Equal(t, i+1, e.Round)
	}
	// every round's calls are answered, ids are unique
	require.NoError(t, llms.ValidateToolPairing(res.Conversation))
	assert.NotEqual(t, res.Trace[0].RequestID, res.Trace[1].RequestID)
	assert.Len(t, res.Conversation, 7)
	assert.Equal(t, int64(60), res.TotalUsage.InputUnits)
}

func TestExecute_DefaultIterationLimit(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(echoInvoke, "echo")
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("test-model").AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolResponse("", toolCall("", "echo", `{}`)), nil).
		Times(orchestrator.DefaultMaxIterations)

	res, err := orchestrator.New(m, reg, orchestrator.WithMaxIterations(0)).Execute(context.Background(), &orchestrator.Request{Prompt: "loop"})
	require.NoError(t, err)
	assert.True(t, res.HitIterationLimit)
	assert.Equal(t, orchestrator.DefaultMaxIterations, res.IterationsUsed)
	assert.Empty(t, res.FinalAnswer)
}

func TestExecute_ModelError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("test-model").AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, assert.AnError).Times(1)

	cb := &recorder{}
	_, err := orchestrator.New(m, nil, orchestrator.WithCallback(cb)).Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to generate content from model test-model")
	assert.Equal(t, []string{"run_start", "llm_start", "run_error"}, cb.events())

	// empty response is an error too
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(&llms.ContentResponse{}, nil).Times(1)
	_, err = orchestrator.New(m, nil).Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	assert.EqualError(t, err, "model test-model returned empty response")
}

func TestExecute_InvalidRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	o := orchestrator.New(m, nil)

	_, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "  "})
	assert.EqualError(t, err, "prompt is required")

	_, err = o.Execute(context.Background(), &orchestrator.Request{
		Prompt: "next",
		History: []llms.Message{
			llms.MessageFromTextParts(llms.RoleHuman, "hi"),
			llms.MessageFromToolCalls("", toolCall("1", "echo", `{}`)),
		},
	})
	assert.EqualError(t, err, "invalid history: the last message has unanswered tool calls")

	_, err = o.Execute(context.Background(), &orchestrator.Request{
		Prompt: "next",
		History: []llms.Message{
			llms.MessageFromToolCalls("", toolCall("1", "echo", `{}`)),
			llms.MessageFromToolResponses(llms.ToolCallResponse{ToolCallID: "2", Name: "echo"}),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid history")
}

func TestExecute_History(t *testing.T) {
	t.Parallel()

	s := &scripted{responses: []*llms.ContentResponse{textResponse("4")}}
	o := orchestrator.New(newModel(t, s), nil)

	history := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "2+2?"),
		llms.MessageFromTextParts(llms.RoleAI, "what for?"),
	}
	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "just answer", History: history})
	require.NoError(t, err)
	require.Len(t, res.Conversation, 4)
	assert.Equal(t, history, res.Conversation[:2])
	assert.Len(t, s.calls[0], 3)
	// the caller's history is not modified
	assert.Len(t, history, 2)
}

func TestExecute_ToolTimeout(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(func(ctx context.Context, _, _ string, _ json.RawMessage) (*protocol.CallToolResult, error) {
		<-ctx.Done()
		return nil, errors.WithMessage(ctx.Err(), "call abandoned")
	}, "hang")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "hang", `{}`)),
		textResponse("timed out"),
	}}
	o := orchestrator.New(newModel(t, s), reg, orchestrator.WithToolTimeout(50*time.Millisecond))

	started := time.Now()
	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)

	responses := res.Conversation[2].ToolResponses()
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsError)
	assert.Contains(t, responses[0].Content, "context deadline exceeded")
}

func TestExecute_Cancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	reg := newFakeRegistry(func(ctx context.Context, _, _ string, _ json.RawMessage) (*protocol.CallToolResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}, "hang")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "hang", `{}`)),
	}}
	o := orchestrator.New(newModel(t, s), reg)

	_, err := o.Execute(ctx, &orchestrator.Request{Prompt: "go"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, s.calls, 1)
}

func TestExecute_RoundDelay(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(echoInvoke, "echo")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "echo", `{}`)),
		toolResponse("", toolCall("2", "echo", `{}`)),
		textResponse("done"),
	}}
	o := orchestrator.New(newModel(t, s), reg, orchestrator.WithRoundDelay(60*time.Millisecond))

	started := time.Now()
	res, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.IterationsUsed)
	assert.GreaterOrEqual(t, time.Since(started), 100*time.Millisecond)
}

func TestExecute_Callbacks(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry(echoInvoke, "echo")
	s := &scripted{responses: []*llms.ContentResponse{
		toolResponse("", toolCall("1", "echo", `{"text":"x"}`)),
		toolResponse("", toolCall("2", "nope", `{}`)),
		textResponse("done"),
	}}
	cb := &recorder{}
	o := orchestrator.New(newModel(t, s), reg, orchestrator.WithCallback(cb))

	_, err := o.Execute(context.Background(), &orchestrator.Request{Prompt: "go"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run_start",
		"llm_start", "llm_end", "tool_start", "tool_end",
		"llm_start", "llm_end", "tool_not_found", "tool_end",
		"llm_start", "llm_end",
		"run_end",
	}, cb.events())
}

// recorder is a Callback recording the event names.
type recorder struct {
	lock sync.Mutex
	list []string
}

var _ orchestrator.Callback = (*recorder)(nil)

func (r *recorder) add(event string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.list = append(r.list, event)
}

func (r *recorder) events() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.list...)
}

func (r *recorder) OnRunStart(context.Context, string, string) { r.add("run_start") }
func (r *recorder) OnRunEnd(context.Context, string, *orchestrator.Result) {
	r.add("run_end")
}
func (r *recorder) OnRunError(context.Context, string, error) { r.add("run_error") }
func (r *recorder) OnLLMCallStart(context.Context, string, llms.Model, []llms.Message) {
	r.add("llm_start")
}
func (r *recorder) OnLLMCallEnd(context.Context, string, llms.Model, *llms.ContentResponse) {
	r.add("llm_end")
}
func (r *recorder) OnToolStart(context.Context, string, string, string, string) {
	r.add("tool_start")
}
func (r *recorder) OnToolEnd(context.Context, string, *orchestrator.TraceEntry) {
	r.add("tool_end")
}
func (r *recorder) OnToolError(context.Context, string, string, string, error) {
	r.add("tool_error")
}
func (r *recorder) OnToolNotFound(context.Context, string, string) {
	r.add("tool_not_found")
}
