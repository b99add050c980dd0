// Package orchestrator drives repeated model and tool exchanges until the model
// answers without requesting tools or the round limit is reached.
//
// Each round calls the model with the whole conversation and the tool schema
// discovered by the registry. Tool requests of one round are dispatched
// concurrently, and their results are appended as a single user turn in the
// order of the requests. Tool failures are returned to the model as error
// results, model failures abort the run.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/toolmesh/pkg/llmutils"
	"github.com/effective-security/toolmesh/pkg/metricskey"
	"github.com/effective-security/toolmesh/pkg/schema"
	"github.com/effective-security/toolmesh/registry"
	"github.com/effective-security/toolmesh/usage"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "orchestrator")

const (
	// DefaultName is the name of the orchestrator in logs and metrics.
	DefaultName = "toolmesh"
	// DefaultMaxIterations is the default round limit.
	DefaultMaxIterations = 10
	// DefaultSummaryLen is the default size of trace summaries.
	DefaultSummaryLen = 256
)

// Registry routes tool calls to the providers.
// It is implemented by *registry.Registry.
type Registry interface {
	Tools() []registry.RoutedTool
	Resolve(name string) (string, bool)
	Invoke(ctx context.Context, providerID, name string, args json.RawMessage) (*protocol.CallToolResult, error)
}

// Request is the input of one run.
type Request struct {
	// Prompt is the user content of the first round.
	Prompt string
	// History is the conversation preceding the prompt.
	History []llms.Message
	// SystemPrompt is sent with every model call.
	SystemPrompt string
	// Options override the orchestrator options for this run.
	Options []Option
}

// TraceEntry records one tool invocation.
type TraceEntry struct {
	Round         int    `json:"round" yaml:"round"`
	ToolName      string `json:"tool_name" yaml:"tool_name"`
	ProviderID    string `json:"provider_id,omitempty" yaml:"provider_id,omitempty"`
	RequestID     string `json:"request_id" yaml:"request_id"`
	InputSummary  string `json:"input_summary" yaml:"input_summary"`
	OutputSummary string `json:"output_summary" yaml:"output_summary"`
	IsError       bool   `json:"is_error" yaml:"is_error"`
	ElapsedMs     int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Result is the outcome of a completed run.
type Result struct {
	FinalAnswer       string         `json:"final_answer" yaml:"final_answer"`
	IterationsUsed    int            `json:"iterations_used" yaml:"iterations_used"`
	HitIterationLimit bool           `json:"hit_iteration_limit" yaml:"hit_iteration_limit"`
	Trace             []TraceEntry   `json:"trace,omitempty" yaml:"trace,omitempty"`
	TotalUsage        usage.Record   `json:"total_usage" yaml:"total_usage"`
	Conversation      []llms.Message `json:"conversation" yaml:"-"`
}

// Failed returns the trace entries of the failed tool calls.
func (r *Result) Failed() []TraceEntry {
	var failed []TraceEntry
	for _, e := range r.Trace {
		if e.IsError {
			failed = append(failed, e)
		}
	}
	return failed
}

// Orchestrator runs tool-use loops against a model.
// It is safe for concurrent use: each Execute call owns its conversation.
type Orchestrator struct {
	name     string
	model    llms.Model
	registry Registry
	opts     []Option
}

// New returns an orchestrator. The registry may be nil, in which case
// the model is called without tools.
func New(model llms.Model, reg Registry, opts ...Option) *Orchestrator {
	return &Orchestrator{
		name:     DefaultName,
		model:    model,
		registry: reg,
		opts:     opts,
	}
}

// WithName sets the name used in logs, metrics and callbacks.
func (o *Orchestrator) WithName(name string) *Orchestrator {
	o.name = name
	return o
}

// Name returns the name of the orchestrator.
func (o *Orchestrator) Name() string {
	return o.name
}

// Execute runs the loop for the request.
func (o *Orchestrator) Execute(ctx context.Context, req *Request) (*Result, error) {
	started := time.Now()
	defer metricskey.PerfOrchestratorRun.MeasureSince(started, o.name)

	opts := make([]Option, 0, len(o.opts)+len(req.Options))
	opts = append(opts, o.opts...)
	opts = append(opts, req.Options...)
	cfg := NewConfig(opts...)
	callback := cfg.Callback
	if callback != nil {
		callback.OnRunStart(ctx, o.name, req.Prompt)
	}

	res, err := o.run(ctx, cfg, req)
	if err != nil {
		metricskey.StatsOrchestratorRunsFailed.IncrCounter(1, o.name)
		logger.ContextKV(ctx, xlog.ERROR,
			"agent", o.name,
			"status", "run_failed",
			"err", err.Error(),
		)
		if callback != nil {
			callback.OnRunError(ctx, o.name, err)
		}
		return nil, err
	}

	metricskey.StatsOrchestratorRunsSucceeded.IncrCounter(1, o.name)
	if res.HitIterationLimit {
		metricskey.StatsOrchestratorIterationLimit.IncrCounter(1, o.name)
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", o.name,
			"status", "iteration_limit",
			"iterations", res.IterationsUsed,
		)
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", o.name,
		"status", "completed",
		"iterations", res.IterationsUsed,
		"tool_calls", len(res.Trace),
		"usage", res.TotalUsage.String(),
	)
	if callback != nil {
		callback.OnRunEnd(ctx, o.name, res)
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, cfg *Config, req *Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.History) == 0 {
		return nil, errors.New("prompt is required")
	}
	if err := llms.ValidateToolPairing(req.History); err != nil {
		return nil, errors.WithMessage(err, "invalid history")
	}
	if n := len(req.History); n > 0 && len(req.History[n-1].ToolCalls()) > 0 {
		return nil, errors.New("invalid history: the last message has unanswered tool calls")
	}

	conversation := make([]llms.Message, 0, len(req.History)+2*cfg.MaxIterations+1)
	conversation = append(conversation, req.History...)
	if req.Prompt != "" {
		conversation = append(conversation, llms.MessageFromTextParts(llms.RoleHuman, req.Prompt))
	}

	callOpts := o.callOptions(ctx, cfg)

	limit := rate.Inf
	if cfg.RoundDelay > 0 {
		limit = rate.Every(cfg.RoundDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	res := new(Result)
	for round := 1; round <= cfg.MaxIterations; round++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errors.WithMessagef(err, "round %d interrupted", round)
		}

		resp, rec, err := o.generate(ctx, cfg, req.SystemPrompt, conversation, callOpts)
		if err != nil {
			return nil, err
		}
		res.IterationsUsed = round
		res.TotalUsage = res.TotalUsage.Add(rec)

		text := resp.Text()
		if text != "" {
			res.FinalAnswer = text
		}

		calls := resp.ToolCalls()
		if !resp.WantsTools() || len(calls) == 0 {
			res.FinalAnswer = text
			// an assistant turn with an empty text block is rejected by the model APIs
			if text != "" {
				conversation = append(conversation, llms.MessageFromTextParts(llms.RoleAI, text))
			}
			res.Conversation = conversation
			return res, nil
		}

		calls = normalizeToolCalls(calls)
		conversation = append(conversation, llms.MessageFromToolCalls(text, calls...))

		responses, entries := o.executeToolCalls(ctx, cfg, round, calls)
		conversation = append(conversation, llms.MessageFromToolResponses(responses...))
		res.Trace = append(res.Trace, entries...)

		if err := ctx.Err(); err != nil {
			return nil, errors.WithMessagef(err, "round %d interrupted", round)
		}
	}

	res.HitIterationLimit = true
	res.Conversation = conversation
	return res, nil
}

func (o *Orchestrator) callOptions(ctx context.Context, cfg *Config) []llms.CallOption {
	var opts []llms.CallOption
	if cfg.Model != "" {
		opts = append(opts, llms.WithModel(cfg.Model))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.temperatureSet {
		opts = append(opts, llms.WithTemperature(cfg.Temperature))
	}
	if tools := o.toolDefinitions(ctx); len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
		if cfg.ToolChoice != nil {
			opts = append(opts, llms.WithToolChoice(cfg.ToolChoice))
		}
	}
	return opts
}

// toolDefinitions returns the routed tools in the model declaration format.
func (o *Orchestrator) toolDefinitions(ctx context.Context) []llms.Tool {
	if o.registry == nil {
		return nil
	}
	var tools []llms.Tool
	for _, t := range o.registry.Tools() {
		params, err := schema.FromRaw(t.InputSchema)
		if err != nil {
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", o.name,
				"status", "invalid_tool_schema",
				"provider", t.ProviderID,
				"tool", t.Name,
				"err", err.Error(),
			)
			continue
		}
		tools = append(tools, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

func (o *Orchestrator) generate(ctx context.Context, cfg *Config, systemPrompt string, conversation []llms.Message, opts []llms.CallOption) (*llms.ContentResponse, usage.Record, error) {
	modelName := values.StringsCoalesce(cfg.Model, o.model.GetName())

	messages := conversation
	if systemPrompt != "" {
		messages = make([]llms.Message, 0, len(conversation)+1)
		messages = append(messages, llms.MessageFromTextParts(llms.RoleSystem, systemPrompt))
		messages = append(messages, conversation...)
	}

	if cfg.Callback != nil {
		cfg.Callback.OnLLMCallStart(ctx, o.name, o.model, messages)
	}

	bytesSent := llmutils.CountMessagesContentSize(messages)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), o.name, modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), o.name, modelName)

	callCtx := ctx
	if cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.ModelTimeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := o.model.GenerateContent(callCtx, messages, opts...)
	latency := time.Since(started)
	metricskey.PerfLLMCall.MeasureSince(started, o.name, modelName)
	if err != nil {
		return nil, usage.Record{}, errors.WithMessagef(err, "failed to generate content from model %s", modelName)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, usage.Record{}, errors.Errorf("model %s returned empty response", modelName)
	}

	if cfg.Callback != nil {
		cfg.Callback.OnLLMCallEnd(ctx, o.name, o.model, resp)
	}

	bytesReceived := llmutils.CountResponseContentSize(resp)
	metricskey.StatsLLMBytesReceived.IncrCounter(float64(bytesReceived), o.name, modelName)

	pricing, _ := cfg.Pricing.Find(modelName)
	rec := usage.FromResponse(resp, latency, pricing)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(rec.InputUnits), o.name, modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(rec.OutputUnits), o.name, modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(rec.TotalUnits), o.name, modelName)

	return resp, rec, nil
}

// normalizeToolCalls fills the missing ids and types.
func normalizeToolCalls(calls []llms.ToolCall) []llms.ToolCall {
	res := make([]llms.ToolCall, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		tc.Type = values.StringsCoalesce(tc.Type, "function")
		res[i] = tc
	}
	return res
}

// executeToolCalls invokes the calls concurrently and returns the responses
// and trace entries in the order of the calls.
func (o *Orchestrator) executeToolCalls(ctx context.Context, cfg *Config, round int, calls []llms.ToolCall) ([]llms.ToolCallResponse, []TraceEntry) {
	type toolCallResult struct {
		response llms.ToolCallResponse
		entry    TraceEntry
		index    int
	}

	// buffered to never block the senders
	resultChan := make(chan toolCallResult, len(calls))

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, tc := range calls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			response, entry := o.executeToolCall(ctx, cfg, round, tc)
			resultChan <- toolCallResult{response: response, entry: entry, index: index}
		}(i, tc)
	}
	wg.Wait()
	close(resultChan)

	responses := make([]llms.ToolCallResponse, len(calls))
	entries := make([]TraceEntry, len(calls))
	for r := range resultChan {
		responses[r.index] = r.response
		entries[r.index] = r.entry
	}
	return responses, entries
}

func (o *Orchestrator) executeToolCall(ctx context.Context, cfg *Config, round int, tc llms.ToolCall) (llms.ToolCallResponse, TraceEntry) {
	toolName := tc.Name()
	input := tc.Arguments()

	started := time.Now()
	providerID, output, isError := o.callTool(ctx, cfg, toolName, input)

	entry := TraceEntry{
		Round:         round,
		ToolName:      toolName,
		ProviderID:    providerID,
		RequestID:     tc.ID,
		InputSummary:  llmutils.Summarize(input, cfg.SummaryLen),
		OutputSummary: llmutils.Summarize(output, cfg.SummaryLen),
		IsError:       isError,
		ElapsedMs:     time.Since(started).Milliseconds(),
	}
	if cfg.Callback != nil {
		cfg.Callback.OnToolEnd(ctx, o.name, &entry)
	}

	return llms.ToolCallResponse{
		ToolCallID: tc.ID,
		Name:       toolName,
		Content:    output,
		IsError:    isError,
	}, entry
}

// callTool returns the provider, the output and the error flag of the call.
func (o *Orchestrator) callTool(ctx context.Context, cfg *Config, toolName, input string) (string, string, bool) {
	providerID, ok := o.resolve(toolName)
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		if cfg.Callback != nil {
			cfg.Callback.OnToolNotFound(ctx, o.name, toolName)
		}
		available := strings.Join(o.toolNames(), ", ")
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", o.name,
			"status", "tool_not_found",
			"tool", toolName,
			"available_tools", available,
		)
		return "", fmt.Sprintf("Tool `%s` not found. Use one of the available tools: %s", toolName, values.StringsCoalesce(available, "none")), true
	}

	args, ok := llmutils.ToolArguments(input)
	if !ok {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		return providerID, fmt.Sprintf("Invalid arguments for `%s`: arguments must be a JSON object matching the input schema.", toolName), true
	}

	if cfg.Callback != nil {
		cfg.Callback.OnToolStart(ctx, o.name, providerID, toolName, string(args))
	}

	callCtx := ctx
	if cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
		defer cancel()
	}

	res, err := o.registry.Invoke(callCtx, providerID, toolName, args)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
		if cfg.Callback != nil {
			cfg.Callback.OnToolError(ctx, o.name, providerID, toolName, err)
		}
		logger.ContextKV(ctx, xlog.ERROR,
			"agent", o.name,
			"status", "tool_call_failed",
			"provider", providerID,
			"tool", toolName,
			"err", err.Error(),
		)
		return providerID, fmt.Sprintf("Tool `%s` could not be reached: %s", toolName, err.Error()), true
	}

	if res.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)
	}
	return providerID, res.Text(), res.IsError
}

func (o *Orchestrator) resolve(name string) (string, bool) {
	if o.registry == nil || name == "" {
		return "", false
	}
	return o.registry.Resolve(name)
}

func (o *Orchestrator) toolNames() []string {
	if o.registry == nil {
		return nil
	}
	tools := o.registry.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}
