// Package observability exposes CodeSage's Prometheus metrics: a
// promauto-registered Metrics struct narrowed to the counters and
// histograms this system's own components (tool execution, the
// doom-loop guard, the self-evolution cycle) actually emit.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector CodeSage registers. A nil
// *Metrics is valid everywhere it's accepted: every Observe method
// returns early on a nil receiver, so metrics remain fully optional for
// tests and one-off CLI invocations.
type Metrics struct {
	// ToolExecutions counts tool calls by tool name and outcome
	// (success|error).
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// DoomLoopSkips counts Doom-Loop Guard skip decisions by reason
	// ("within backoff"|"daily quota"|"duplicate question").
	DoomLoopSkips *prometheus.CounterVec

	// EvolutionCycles counts completed self-evolution cycles by outcome
	// (success|failure|skipped).
	EvolutionCycles *prometheus.CounterVec
}

// NewMetrics creates and registers every collector with the default
// registry. Call once at process startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesage_tool_executions_total",
				Help: "Total tool executions by tool name and outcome.",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codesage_tool_execution_duration_seconds",
				Help:    "Tool execution latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),
		DoomLoopSkips: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesage_doomloop_skips_total",
				Help: "Total Doom-Loop Guard skip decisions by reason.",
			},
			[]string{"reason"},
		),
		EvolutionCycles: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codesage_evolution_cycles_total",
				Help: "Total completed self-evolution cycles by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveToolExecution records one tool call's outcome and duration. m
// may be nil.
func (m *Metrics) ObserveToolExecution(toolName, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// ObserveDoomLoopSkip records one skip decision. m may be nil.
func (m *Metrics) ObserveDoomLoopSkip(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.DoomLoopSkips.WithLabelValues(reason).Inc()
}

// ObserveEvolutionCycle records one completed cycle's outcome. m may be
// nil.
func (m *Metrics) ObserveEvolutionCycle(outcome string) {
	if m == nil {
		return
	}
	m.EvolutionCycles.WithLabelValues(outcome).Inc()
}
