package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsAgentRunsSucceeded is base for counter metric for agent runs that completed
	StatsAgentRunsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_runs_succeeded",
		Help:         "stats_agent_runs_succeeded provides total agent runs completed",
		RequiredTags: []string{"agent"},
	}

	StatsAgentRunsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_runs_failed",
		Help:         "stats_agent_runs_failed provides total agent runs failed",
		RequiredTags: []string{"agent", "reason"},
	}

	StatsAgentGenerations = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_generations",
		Help:         "stats_agent_generations provides total generation steps",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMCallsRetried = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_calls_retried",
		Help:         "stats_llm_calls_retried provides total LLM calls retried by the retry decorator",
		RequiredTags: []string{"provider"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
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

	StatsRPCRequestsServed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_requests_served",
		Help:         "stats_rpc_requests_served provides total RPC requests served",
		RequiredTags: []string{"method"},
	}

	StatsRPCRequestsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_requests_failed",
		Help:         "stats_rpc_requests_failed provides total RPC requests answered with an error",
		RequiredTags: []string{"method"},
	}

	StatsRPCUnexpectedResponses = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_rpc_unexpected_responses",
		Help:         "stats_rpc_unexpected_responses provides total responses with no outstanding request",
		RequiredTags: []string{"transport"},
	}
)

// Perf
var (
	PerfAgentRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_agent_run",
		Help:         "perf_agent_run provides duration of agent run",
		RequiredTags: []string{"agent"},
	}

	PerfLLMGenerate = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_llm_generate",
		Help:         "perf_llm_generate provides duration of a generation step",
		RequiredTags: []string{"agent", "model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfAgentRun,
	&PerfLLMGenerate,
	&PerfToolCall,
	&StatsAgentGenerations,
	&StatsAgentRunsFailed,
	&StatsAgentRunsSucceeded,
	&StatsLLMCallsRetried,
	&StatsLLMInputTokens,
	&StatsLLMOutputTokens,
	&StatsRPCRequestsFailed,
	&StatsRPCRequestsServed,
	&StatsRPCUnexpectedResponses,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
