// Package telemetry provides OpenTelemetry spans around LLM calls and
// gadget executions, trimmed from the teacher's internal/observability
// tracer to the trace API plus a stdout exporter for local development
// (spec.md §10: "no exporter wiring beyond a stdout exporter for dev").
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zbigniewsobiecki/llmist/pkg/agent"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// NewProvider builds a TracerProvider. When enabled is false it returns an
// SDK provider with no exporter and the sdktrace.NeverSample sampler
// (AlwaysSample with no exporter would still allocate spans), which keeps
// the cost near zero while still satisfying the trace.Tracer interface
// callers depend on.
func NewProvider(serviceName string, enabled bool) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		res = resource.Default()
	}

	if !enabled {
		provider := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		)
		return provider, provider.Shutdown, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return provider, provider.Shutdown, nil
}

// Hooks decorates an inner agent.Hooks, wrapping every LLM call and gadget
// execution in a span on tracer, then forwarding to inner unchanged.
type Hooks struct {
	agent.Hooks
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// Wrap builds a Hooks decorator. inner may be agent.NopHooks{} if the
// caller only wants tracing.
func Wrap(inner agent.Hooks, tracer trace.Tracer) *Hooks {
	return &Hooks{Hooks: inner, tracer: tracer, spans: map[string]trace.Span{}}
}

func (h *Hooks) startSpan(ctx context.Context, nodeID, name string, attrs ...attribute.KeyValue) {
	if nodeID == "" {
		return
	}
	_, span := h.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	h.mu.Lock()
	h.spans[nodeID] = span
	h.mu.Unlock()
}

func (h *Hooks) endSpan(nodeID string, err error) {
	h.mu.Lock()
	span, ok := h.spans[nodeID]
	delete(h.spans, nodeID)
	h.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (h *Hooks) OnLLMCallStart(ctx context.Context, hc agent.HookContext, req llm.Request) {
	h.startSpan(ctx, hc.LLMCallNodeID, "llm_call", attribute.String("model", req.Model))
	h.Hooks.OnLLMCallStart(ctx, hc, req)
}

func (h *Hooks) OnLLMCallComplete(ctx context.Context, hc agent.HookContext, response string, usage *models.Usage) {
	h.endSpan(hc.LLMCallNodeID, nil)
	h.Hooks.OnLLMCallComplete(ctx, hc, response, usage)
}

func (h *Hooks) OnLLMCallError(ctx context.Context, hc agent.HookContext, err error) {
	h.endSpan(hc.LLMCallNodeID, err)
	h.Hooks.OnLLMCallError(ctx, hc, err)
}

func (h *Hooks) OnGadgetExecutionStart(ctx context.Context, hc agent.HookContext, call models.GadgetCall) {
	h.startSpan(ctx, hc.GadgetNodeID, "gadget_execution",
		attribute.String("gadget", call.GadgetName),
		attribute.String("invocation_id", call.InvocationID))
	h.Hooks.OnGadgetExecutionStart(ctx, hc, call)
}

func (h *Hooks) OnGadgetExecutionComplete(ctx context.Context, hc agent.HookContext, result gadget.Result) {
	h.endSpan(hc.GadgetNodeID, nil)
	h.Hooks.OnGadgetExecutionComplete(ctx, hc, result)
}

func (h *Hooks) OnGadgetExecutionError(ctx context.Context, hc agent.HookContext, err error) {
	h.endSpan(hc.GadgetNodeID, err)
	h.Hooks.OnGadgetExecutionError(ctx, hc, err)
}

// Tracer returns a named tracer from provider, for passing to Wrap.
func Tracer(provider *sdktrace.TracerProvider, name string) trace.Tracer {
	return provider.Tracer(name)
}
