// Package metricskey describes the metrics emitted by toolmesh.
package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsLLMBytesReceived = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_received",
		Help:         "stats_llm_bytes_received provides total bytes received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_sent",
		Help:         "stats_llm_bytes_sent provides total bytes sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMMessagesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_messages_sent",
		Help:         "stats_llm_messages_sent provides total messages sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMTotalTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_total_tokens",
		Help:         "stats_llm_total_tokens provides total tokens sent and received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsOrchestratorIterationLimit = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_orchestrator_iteration_limit",
		Help:         "stats_orchestrator_iteration_limit provides total runs stopped by the iteration limit",
		RequiredTags: []string{"agent"},
	}

	StatsOrchestratorRunsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_orchestrator_runs_failed",
		Help:         "stats_orchestrator_runs_failed provides total orchestration runs failed",
		RequiredTags: []string{"agent"},
	}

	StatsOrchestratorRunsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_orchestrator_runs_succeeded",
		Help:         "stats_orchestrator_runs_succeeded provides total orchestration runs succeeded",
		RequiredTags: []string{"agent"},
	}

	StatsProviderDiscoveryFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_provider_discovery_failed",
		Help:         "stats_provider_discovery_failed provides total failed capability discoveries",
		RequiredTags: []string{"provider"},
	}

	StatsProviderInvocationFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_provider_invocation_failed",
		Help:         "stats_provider_invocation_failed provides total invocations that could not reach the provider",
		RequiredTags: []string{"provider"},
	}

	StatsProviderRegistrationsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_provider_registrations_failed",
		Help:         "stats_provider_registrations_failed provides total provider registrations failed",
		RequiredTags: []string{"provider"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolHandlerErrors = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_handler_errors",
		Help:         "stats_tool_handler_errors provides total tool handler errors inside a provider",
		RequiredTags: []string{"server", "tool"},
	}

	StatsWebSearchCacheHits = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_web_search_cache_hits",
		Help:         "stats_web_search_cache_hits provides total web searches served from the cache",
		RequiredTags: []string{"depth"},
	}

	StatsWebSearchCacheMisses = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_web_search_cache_misses",
		Help:         "stats_web_search_cache_misses provides total web searches sent to the search API",
		RequiredTags: []string{"depth"},
	}
)

// Perf
var (
	PerfLLMCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_llm_call",
		Help:         "perf_llm_call provides duration of a model call",
		RequiredTags: []string{"agent", "model"},
	}

	PerfOrchestratorRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_orchestrator_run",
		Help:         "perf_orchestrator_run provides duration of an orchestration run",
		RequiredTags: []string{"agent"},
	}

	PerfProviderCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_provider_call",
		Help:         "perf_provider_call provides duration of a provider invocation",
		RequiredTags: []string{"provider", "tool"},
	}

	PerfToolHandler = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_handler",
		Help:         "perf_tool_handler provides duration of a tool handler inside a provider",
		RequiredTags: []string{"server", "tool"},
	}

	PerfWebSearch = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_web_search",
		Help:         "perf_web_search provides duration of a search API request",
		RequiredTags: []string{"depth"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfLLMCall,
	&PerfOrchestratorRun,
	&PerfProviderCall,
	&PerfToolHandler,
	&PerfWebSearch,
	&StatsLLMBytesReceived,
	&StatsLLMBytesSent,
	&StatsLLMInputTokens,
	&StatsLLMMessagesSent,
	&StatsLLMOutputTokens,
	&StatsLLMTotalTokens,
	&StatsOrchestratorIterationLimit,
	&StatsOrchestratorRunsFailed,
	&StatsOrchestratorRunsSucceeded,
	&StatsProviderDiscoveryFailed,
	&StatsProviderInvocationFailed,
	&StatsProviderRegistrationsFailed,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
	&StatsToolHandlerErrors,
	&StatsWebSearchCacheHits,
	&StatsWebSearchCacheMisses,
}
