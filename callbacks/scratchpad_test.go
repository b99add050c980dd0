package callbacks

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/effective-security/toolmesh/orchestrator"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct{}

func (fakeModel) GetName() string                    { return "fake-model" }
func (fakeModel) GetProviderType() llms.ProviderType { return llms.ProviderFake }
func (fakeModel) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}

func TestScratchpad_StartRun_EndRun(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeVerbose)
	ctx := sp.StartRun(context.Background())
	runID := RunID(ctx)
	require.NotEmpty(t, runID)

	// Populate stats for EndRun
	r := sp.runs[runID]
	r.stats.Runs = 2
	r.stats.RunsFailed = 1
	r.stats.ToolCalls = 3
	r.stats.ToolCallsFailed = 2
	r.stats.ToolNotFound = 1
	r.stats.LLMCalls = 1
	r.stats.TotalMessages = 4
	r.stats.LLMBytesOut = 10
	r.stats.LLMBytesIn = 11

	stats, buf := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, runID, stats.RunID)
	require.Contains(t, string(buf), "Run Started")
	require.Contains(t, string(buf), "Run Ended")
	require.Contains(t, string(buf), "Runs: 2, Failed: 1")
	require.Contains(t, string(buf), "Tool calls: 3, Failed: 2, Not Found: 1")
	require.Contains(t, string(buf), "Bytes Total: 21")
	_, ok := sp.runs[runID]
	assert.False(t, ok)

	// EndRun with no run (run already deleted)
	s2, _ := sp.EndRun(ctx)
	assert.Nil(t, s2)

	// the run id of the context is kept
	ctx = sp.StartRun(WithRunID(context.Background(), "run1"))
	assert.Equal(t, "run1", RunID(ctx))
	stats, _ = sp.EndRun(ctx)
	assert.Equal(t, "run1", stats.RunID)
}

func TestScratchpad_getRun_nil(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeDefault)
	assert.Nil(t, sp.getRun(context.Background()))
	assert.Nil(t, sp.getRun(WithRunID(context.Background(), "unknown")))
}

func TestScratchpad_OnCallbacks(t *testing.T) {
	t.Parallel()
	sp := NewScratchpad(ModeVerbose)
	ctx := sp.StartRun(context.Background())

	resp := &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        "Answer 1",
		GenerationInfo: map[string]any{"InputTokens": int64(5), "OutputTokens": int64(2)},
	}}}
	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "foo"),
		llms.MessageFromToolCalls("", llms.ToolCall{ID: "1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "T1", Arguments: "{}"}}),
		llms.MessageFromToolResponses(llms.ToolCallResponse{ToolCallID: "1", Name: "T1", Content: "ok"}),
	}
	ok := &orchestrator.TraceEntry{Round: 1, ToolName: "T1", ProviderID: "P1", OutputSummary: "toutput"}
	failed := &orchestrator.TraceEntry{Round: 1, ToolName: "T1", ProviderID: "P1", IsError: true}
	result := &orchestrator.Result{FinalAnswer: "Answer 1", IterationsUsed: 3, HitIterationLimit: true, Conversation: messages}

	exercise := func(ctx context.Context) {
		sp.OnRunStart(ctx, "A1", "input")
		sp.OnLLMCallStart(ctx, "A1", fakeModel{}, messages)
		sp.OnLLMCallEnd(ctx, "A1", fakeModel{}, resp)
		sp.OnToolStart(ctx, "A1", "P1", "T1", "tinput")
		sp.OnToolEnd(ctx, "A1", ok)
		sp.OnToolError(ctx, "A1", "P1", "T1", errors.New("terr"))
		sp.OnToolEnd(ctx, "A1", failed)
		sp.OnToolNotFound(ctx, "A1", "T2")
		sp.OnRunEnd(ctx, "A1", result)
		sp.OnRunError(ctx, "A1", errors.New("fail"))
	}
	exercise(ctx)

	stats, output := sp.EndRun(ctx)
	require.NotNil(t, stats)
	assert.Equal(t, uint32(1), stats.Runs)
	assert.Equal(t, uint32(1), stats.RunsFailed)
	assert.Equal(t, uint32(1), stats.LLMCalls)
	assert.Equal(t, uint32(3), stats.TotalMessages)
	assert.Equal(t, uint32(2), stats.ToolCalls)
	assert.Equal(t, uint32(1), stats.ToolCallsSucceeded)
	assert.Equal(t, uint32(1), stats.ToolCallsFailed)
	assert.Equal(t, uint32(1), stats.ToolNotFound)
	assert.Equal(t, uint64(5), stats.LLMInputTokens)
	assert.Equal(t, uint64(7), stats.LLMTotalTokens)

	outStr := string(output)
	assert.Contains(t, outStr, "A1 *** Start ***")
	assert.Contains(t, outStr, "A1 P1/T1 *** Tool Start ***")
	assert.Contains(t, outStr, "A1 T1 Output: toutput")
	assert.Contains(t, outStr, "*** Tool End *** round 1")
	assert.Contains(t, outStr, "*** Tool Error *** terr")
	assert.Contains(t, outStr, "*** Tool Not Found *** T2")
	assert.Contains(t, outStr, "*** LLM Call *** fake-model model, 3 messages")
	assert.Contains(t, outStr, "5 input tokens, 2 output tokens, 7 total tokens")
	assert.Contains(t, outStr, "*** Iteration Limit *** 3 iterations")
	assert.Contains(t, outStr, "ToolCall: 1 (T1)")
	assert.Contains(t, outStr, "A1 *** End ***")
	assert.Contains(t, outStr, "A1 *** Error *** fail")

	// no run: callbacks are ignored
	exercise(ctx)
	exercise(context.Background())
}

func Test_run_print_format(t *testing.T) {
	r := &run{stats: RunStats{RunID: "run1"}}
	oldTimeFn := TimeNowFn
	TimeNowFn = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }
	defer func() { TimeNowFn = oldTimeFn }()

	r.print("hello", "again")
	lines := strings.Split(r.w.String(), "\n")
	require.NotEmpty(t, lines[0])
	assert.Equal(t, "2024-01-01 12:00:00 run1 hello again", lines[0])
}
