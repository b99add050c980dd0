package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/toolmesh/orchestrator"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llmutils"
	"github.com/google/uuid"
)

var TimeNowFn = time.Now

type runKey struct{}

// WithRunID returns a context carrying the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunID returns the run id of the context, or empty string.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

type RunStats struct {
	RunID string

	Duration           time.Duration
	TotalMessages      uint32
	LLMBytesOut        uint64
	LLMBytesIn         uint64
	LLMInputTokens     uint64
	LLMOutputTokens    uint64
	LLMTotalTokens     uint64
	LLMCalls           uint32
	Runs               uint32
	RunsFailed         uint32
	ToolCalls          uint32
	ToolCallsSucceeded uint32
	ToolCallsFailed    uint32
	ToolNotFound       uint32
}

// Scratchpad records a transcript and counters of each run.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun starts recording and returns the context to pass to Execute.
// The run id of ctx is used if present.
func (l *Scratchpad) StartRun(ctx context.Context) context.Context {
	runID := RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}

	r := &run{
		stats: RunStats{
			RunID: runID,
		},
		started: time.Now(),
	}

	l.lock.Lock()
	l.runs[runID] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
	return ctx
}

// EndRun stops recording and returns the counters and the transcript.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	run := l.getRun(ctx)
	if run == nil {
		return nil, nil
	}

	stats := run.stats
	stats.Duration = time.Since(run.started)

	run.print(fmt.Sprintf("Runs: %d, Failed: %d",
		stats.Runs,
		stats.RunsFailed,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolCalls,
		stats.ToolCallsFailed,
		stats.ToolNotFound,
	))
	run.print(fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Bytes Total: %d, Input Tokens: %d, Output Tokens: %d, Total Tokens: %d",
		stats.LLMCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMBytesOut+stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
		stats.LLMTotalTokens,
	))

	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, stats.RunID)
	l.lock.Unlock()

	return &stats, run.w.Bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	runID := RunID(ctx)
	if runID == "" {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[runID]
}

func (l *Scratchpad) OnRunStart(ctx context.Context, agent string, prompt string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.Runs, 1)
	run.print(agent, "*** Start ***")
	run.print(agent, "Input:", prompt)
}

func (l *Scratchpad) OnRunEnd(ctx context.Context, agent string, result *orchestrator.Result) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	if l.mode == ModeVerbose {
		run.print(agent, "Output:", result.FinalAnswer)
		run.print(agent, l.printMessages(result.Conversation))
	}
	if result.HitIterationLimit {
		run.print(agent, "*** Iteration Limit ***", fmt.Sprintf("%d iterations", result.IterationsUsed))
	}
	run.print(agent, "Usage:", result.TotalUsage.String())
	run.print(agent, "*** End ***")
}

func (l *Scratchpad) OnRunError(ctx context.Context, agent string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.RunsFailed, 1)
	run.print(agent, "*** Error ***", err.Error())
}

func (l *Scratchpad) printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

func (l *Scratchpad) OnLLMCallStart(ctx context.Context, agent string, llm llms.Model, messages []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesOut, llmutils.CountMessagesContentSize(messages))
	atomic.AddUint32(&run.stats.LLMCalls, 1)
	count := uint32(len(messages))
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print(agent, "*** LLM Call ***", fmt.Sprintf("%s model, %d messages", llm.GetName(), count))
	if l.mode == ModeVerbose {
		run.print(agent, l.printMessages(messages))
	}
}

func (l *Scratchpad) OnLLMCallEnd(ctx context.Context, agent string, llm llms.Model, resp *llms.ContentResponse) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(tokensIn))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(tokensOut))
	atomic.AddUint64(&run.stats.LLMTotalTokens, uint64(tokensTotal))

	run.print(agent, "*** LLM Call End ***", fmt.Sprintf("%s model, %d input tokens, %d output tokens, %d total tokens", llm.GetName(), tokensIn, tokensOut, tokensTotal))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, agent, providerID, tool, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	run.print(agent, providerID+"/"+tool, "*** Tool Start ***")
	run.print(agent, providerID+"/"+tool, "Input:", input)
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, agent string, entry *orchestrator.TraceEntry) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolCalls, 1)
	if entry.IsError {
		atomic.AddUint32(&run.stats.ToolCallsFailed, 1)
	} else {
		atomic.AddUint32(&run.stats.ToolCallsSucceeded, 1)
	}
	if l.mode == ModeVerbose {
		run.print(agent, entry.ToolName, "Output:", entry.OutputSummary)
	}
	run.print(agent, entry.ToolName, "*** Tool End ***", fmt.Sprintf("round %d, %dms, error: %t", entry.Round, entry.ElapsedMs, entry.IsError))
}

func (l *Scratchpad) OnToolError(ctx context.Context, agent, providerID, tool string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	run.print(agent, providerID+"/"+tool, "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, agent, tool string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print(agent, "*** Tool Not Found ***", tool)
}

type run struct {
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := TimeNowFn()
	ts := now.Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.stats.RunID)
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
