package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/toolmesh/orchestrator"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llmutils"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ orchestrator.Callback = (*Noop)(nil)
	_ orchestrator.Callback = (*Printer)(nil)
	_ orchestrator.Callback = (*PackageLogger)(nil)
	_ orchestrator.Callback = (*Fanout)(nil)
	_ orchestrator.Callback = (*Scratchpad)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []orchestrator.Callback
}

func NewFanout(callbacks ...orchestrator.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback orchestrator.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnRunStart(ctx context.Context, agent string, prompt string) {
	for _, callback := range l.callbacks {
		callback.OnRunStart(ctx, agent, prompt)
	}
}

func (l *Fanout) OnRunEnd(ctx context.Context, agent string, result *orchestrator.Result) {
	for _, callback := range l.callbacks {
		callback.OnRunEnd(ctx, agent, result)
	}
}

func (l *Fanout) OnRunError(ctx context.Context, agent string, err error) {
	for _, callback := range l.callbacks {
		callback.OnRunError(ctx, agent, err)
	}
}

func (l *Fanout) OnLLMCallStart(ctx context.Context, agent string, llm llms.Model, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallStart(ctx, agent, llm, messages)
	}
}

func (l *Fanout) OnLLMCallEnd(ctx context.Context, agent string, llm llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallEnd(ctx, agent, llm, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, agent, providerID, tool, input string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, agent, providerID, tool, input)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, agent string, entry *orchestrator.TraceEntry) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, agent, entry)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, agent, providerID, tool string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, agent, providerID, tool, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, agent, tool string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, agent, tool)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnRunStart(ctx context.Context, agent string, prompt string) {}
func (l *Noop) OnRunEnd(ctx context.Context, agent string, result *orchestrator.Result) {}
func (l *Noop) OnRunError(ctx context.Context, agent string, err error) {}
func (l *Noop) OnToolStart(ctx context.Context, agent, providerID, tool, input string) {}
func (l *Noop) OnToolEnd(ctx context.Context, agent string, entry *orchestrator.TraceEntry) {}
func (l *Noop) OnToolError(ctx context.Context, agent, providerID, tool string, err error) {}
func (l *Noop) OnToolNotFound(ctx context.Context, agent, tool string) {}
func (l *Noop) OnLLMCallStart(ctx context.Context, agent string, llm llms.Model, messages []llms.Message) {
}
func (l *Noop) OnLLMCallEnd(ctx context.Context, agent string, llm llms.Model, resp *llms.ContentResponse) {
}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnRunStart(ctx context.Context, agent string, prompt string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Run Start: %s\n", agent)
	fmt.Fprintf(l.Out, "Input: %s\n", prompt)
}

func (l *Printer) OnRunEnd(ctx context.Context, agent string, result *orchestrator.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Run End: %s: %d iterations, %d tool calls, %d failed\n",
		agent, result.IterationsUsed, len(result.Trace), len(result.Failed()))
	if result.HitIterationLimit {
		fmt.Fprintln(l.Out, "Iteration limit reached")
	}
	fmt.Fprintf(l.Out, "Usage: %s\n", result.TotalUsage.String())
	if l.Mode == ModeVerbose && result.FinalAnswer != "" {
		fmt.Fprintln(l.Out, result.FinalAnswer)
	}
}

func (l *Printer) OnRunError(ctx context.Context, agent string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Run Error: %s: %s\n", agent, err.Error())
}

func (l *Printer) OnToolStart(ctx context.Context, agent, providerID, tool, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s/%s (%s)\n", providerID, tool, agent)
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnToolEnd(ctx context.Context, agent string, entry *orchestrator.TraceEntry) {
	l.lock.Lock()
	defer l.lock.Unlock()
	status := "ok"
	if entry.IsError {
		status = "error"
	}
	fmt.Fprintf(l.Out, "Tool End: %s (%s): %s, %dms\n", entry.ToolName, agent, status, entry.ElapsedMs)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", entry.OutputSummary)
	}
}

func (l *Printer) OnToolError(ctx context.Context, agent, providerID, tool string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s/%s (%s): %s\n", providerID, tool, agent, err.Error())
}

func (l *Printer) OnLLMCallStart(ctx context.Context, agent string, llm llms.Model, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call: %s: %s model, %d messages\n", agent, llm.GetName(), len(messages))
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, messages)
	}
}

func (l *Printer) OnLLMCallEnd(ctx context.Context, agent string, llm llms.Model, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call End: %s: %s model, stop reason: %s, %d tool calls\n",
		agent, llm.GetName(), resp.StopReason(), len(resp.ToolCalls()))
	if l.Mode == ModeVerbose {
		if text := resp.Text(); text != "" {
			fmt.Fprintln(l.Out, text)
		}
	}
}

func (l *Printer) OnToolNotFound(ctx context.Context, agent, tool string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", tool)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnRunStart(ctx context.Context, agent string, prompt string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "run_start",
		"agent", agent,
		"input", prompt,
	)
}

func (l *PackageLogger) OnRunEnd(ctx context.Context, agent string, result *orchestrator.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "run_end",
		"agent", agent,
		"iterations", result.IterationsUsed,
		"iteration_limit", result.HitIterationLimit,
		"tool_calls", len(result.Trace),
		"usage", result.TotalUsage.String(),
	)
}

func (l *PackageLogger) OnRunError(ctx context.Context, agent string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "run_error",
		"agent", agent,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, agent, providerID, tool, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"agent", agent,
		"provider", providerID,
		"tool", tool,
		"input", input,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, agent string, entry *orchestrator.TraceEntry) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"agent", agent,
		"provider", entry.ProviderID,
		"tool", entry.ToolName,
		"is_error", entry.IsError,
		"elapsed_ms", entry.ElapsedMs,
		"output", entry.OutputSummary,
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, agent, providerID, tool string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"agent", agent,
		"provider", providerID,
		"tool", tool,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnLLMCallStart(ctx context.Context, agent string, llm llms.Model, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"agent", agent,
		"model", llm.GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnLLMCallEnd(ctx context.Context, agent string, llm llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"agent", agent,
		"model", llm.GetName(),
		"stop_reason", resp.StopReason(),
		"tool_calls", len(resp.ToolCalls()),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, agent, tool string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"agent", agent,
		"tool", tool,
	)
}
