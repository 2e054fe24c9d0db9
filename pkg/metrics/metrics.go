// Package metrics exposes Prometheus counters and histograms for LLM calls
// and gadget executions, wired in as an agent.Hooks decorator so metrics
// collection is opt-in and adds no dependency to the core loop.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zbigniewsobiecki/llmist/pkg/agent"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// Metrics collects the counters/histograms this package records. Construct
// with New, which registers them against a prometheus.Registerer.
type Metrics struct {
	LLMCallDuration *prometheus.HistogramVec
	LLMCallCounter  *prometheus.CounterVec
	GadgetDuration  *prometheus.HistogramVec
	GadgetCounter   *prometheus.CounterVec
}

// New registers llmist's metrics against reg (typically
// prometheus.DefaultRegisterer, or a fresh prometheus.NewRegistry() in
// tests to avoid collisions between runs).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmist",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Duration of LLM streaming calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),
		LLMCallCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmist",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "LLM calls by model and outcome.",
		}, []string{"model", "status"}),
		GadgetDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmist",
			Subsystem: "gadget",
			Name:      "execution_duration_seconds",
			Help:      "Duration of gadget executions in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"gadget"}),
		GadgetCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmist",
			Subsystem: "gadget",
			Name:      "executions_total",
			Help:      "Gadget executions by name and outcome.",
		}, []string{"gadget", "status"}),
	}
}

// Hooks decorates an inner agent.Hooks, recording metrics around every call
// before forwarding to it unchanged. Safe for concurrent use, since
// dispatchCalls invokes gadget hooks from multiple goroutines per wave.
type Hooks struct {
	agent.Hooks
	m      *Metrics
	starts *startTimes
}

// Wrap builds a Hooks decorator recording m's metrics around inner. inner
// may be agent.NopHooks{} if the caller only wants metrics.
func Wrap(inner agent.Hooks, m *Metrics) *Hooks {
	return &Hooks{Hooks: inner, m: m, starts: newStartTimes()}
}

func (h *Hooks) OnLLMCallStart(ctx context.Context, hc agent.HookContext, req llm.Request) {
	h.starts.start(hc.LLMCallNodeID, req.Model)
	h.Hooks.OnLLMCallStart(ctx, hc, req)
}

func (h *Hooks) OnLLMCallComplete(ctx context.Context, hc agent.HookContext, response string, usage *models.Usage) {
	h.observeLLM(hc.LLMCallNodeID, "complete")
	h.Hooks.OnLLMCallComplete(ctx, hc, response, usage)
}

func (h *Hooks) OnLLMCallError(ctx context.Context, hc agent.HookContext, err error) {
	h.observeLLM(hc.LLMCallNodeID, "error")
	h.Hooks.OnLLMCallError(ctx, hc, err)
}

func (h *Hooks) observeLLM(nodeID, status string) {
	d, label, ok := h.starts.stop(nodeID)
	if !ok {
		return
	}
	h.m.LLMCallDuration.WithLabelValues(label).Observe(d.Seconds())
	h.m.LLMCallCounter.WithLabelValues(label, status).Inc()
}

func (h *Hooks) OnGadgetExecutionStart(ctx context.Context, hc agent.HookContext, call models.GadgetCall) {
	h.starts.start(hc.GadgetNodeID, call.GadgetName)
	h.Hooks.OnGadgetExecutionStart(ctx, hc, call)
}

func (h *Hooks) OnGadgetExecutionComplete(ctx context.Context, hc agent.HookContext, result gadget.Result) {
	h.observeGadget(hc.GadgetNodeID, "complete")
	h.Hooks.OnGadgetExecutionComplete(ctx, hc, result)
}

func (h *Hooks) OnGadgetExecutionError(ctx context.Context, hc agent.HookContext, err error) {
	h.observeGadget(hc.GadgetNodeID, "error")
	h.Hooks.OnGadgetExecutionError(ctx, hc, err)
}

func (h *Hooks) observeGadget(nodeID, status string) {
	d, label, ok := h.starts.stop(nodeID)
	if !ok {
		return
	}
	h.m.GadgetDuration.WithLabelValues(label).Observe(d.Seconds())
	h.m.GadgetCounter.WithLabelValues(label, status).Inc()
}
