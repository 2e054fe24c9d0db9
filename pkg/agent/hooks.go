package agent

import (
	"context"

	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// HookContext identifies the call a hook invocation concerns, and — for
// calls made from inside a subagent gadget — the enclosing subagent's
// identity, per spec.md §6's "agent-hook surface".
type HookContext struct {
	LLMCallNodeID      string
	GadgetNodeID       string
	GadgetInvocationID string
	SubagentContext    *models.SubagentContext
}

// Hooks is the external observer surface spec.md §6 requires. The agent
// loop invokes these directly for its own (root) llm_call, and the
// observer bridge (pkg/observer) invokes the same interface for subagent
// llm_call and gadget events it derives from tree mutations.
type Hooks interface {
	OnLLMCallStart(ctx context.Context, hc HookContext, req llm.Request)
	OnLLMCallStreamChunk(ctx context.Context, hc HookContext, chunk string)
	OnLLMCallComplete(ctx context.Context, hc HookContext, response string, usage *models.Usage)
	OnLLMCallError(ctx context.Context, hc HookContext, err error)
	OnGadgetExecutionStart(ctx context.Context, hc HookContext, call models.GadgetCall)
	OnGadgetExecutionComplete(ctx context.Context, hc HookContext, result gadget.Result)
	OnGadgetExecutionError(ctx context.Context, hc HookContext, err error)
}

// NopHooks implements Hooks with no-op methods, embeddable by callers who
// only care about a subset of the surface — mirroring nexus's NopSink.
type NopHooks struct{}

func (NopHooks) OnLLMCallStart(context.Context, HookContext, llm.Request)             {}
func (NopHooks) OnLLMCallStreamChunk(context.Context, HookContext, string)            {}
func (NopHooks) OnLLMCallComplete(context.Context, HookContext, string, *models.Usage) {}
func (NopHooks) OnLLMCallError(context.Context, HookContext, error)                   {}
func (NopHooks) OnGadgetExecutionStart(context.Context, HookContext, models.GadgetCall) {}
func (NopHooks) OnGadgetExecutionComplete(context.Context, HookContext, gadget.Result)  {}
func (NopHooks) OnGadgetExecutionError(context.Context, HookContext, error)             {}
