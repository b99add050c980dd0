package orchestrator

import (
	"context"

	"github.com/effective-security/toolmesh/pkg/llms"
)

// Callback receives the events of an orchestration run.
// Tool events are fired from concurrent goroutines.
type Callback interface {
	OnRunStart(ctx context.Context, agent string, prompt string)
	OnRunEnd(ctx context.Context, agent string, result *Result)
	OnRunError(ctx context.Context, agent string, err error)

	OnLLMCallStart(ctx context.Context, agent string, model llms.Model, messages []llms.Message)
	OnLLMCallEnd(ctx context.Context, agent string, model llms.Model, resp *llms.ContentResponse)

	// OnToolStart is called when a resolved tool is about to be invoked.
	OnToolStart(ctx context.Context, agent, providerID, tool, input string)
	// OnToolEnd is called once per tool call of a round, failures included.
	OnToolEnd(ctx context.Context, agent string, entry *TraceEntry)
	// OnToolError is called when the provider could not be reached.
	OnToolError(ctx context.Context, agent, providerID, tool string, err error)
	OnToolNotFound(ctx context.Context, agent, tool string)
}
