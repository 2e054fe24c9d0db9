// Package observer bridges the execution tree's event stream to the
// agent.Hooks interface (spec.md §4.G), so a caller holding only a
// *tree.Tree — typically because the activity it wants to observe happened
// inside a recursively-spawned subagent loop it never had a direct
// reference to — can still receive hook callbacks derived purely from tree
// topology.
package observer

import (
	"context"
	"errors"

	"github.com/zbigniewsobiecki/llmist/pkg/agent"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
	"github.com/zbigniewsobiecki/llmist/pkg/tree"
)

// Attach subscribes hooks to every event t emits and returns an unsubscribe
// function. Per spec.md §4.G: gadget start/complete/skip events are always
// forwarded (enriched with SubagentContext when the gadget has an enclosing
// gadget ancestor); llm_call events are forwarded only when they have an
// enclosing gadget ancestor — a root-level llm_call is assumed to already
// be observed directly by the agent.Loop that owns it (the bridge has no
// way to replay per-chunk streaming data from tree events anyway, since the
// tree only records a call's final response).
//
// Composition note: wiring the same hooks value both directly into a root
// Loop's Config.Hooks and into Attach on that Loop's tree double-delivers
// gadget events for the root loop's own gadgets, since those are not
// suppressed here. Pick one: direct Hooks for a standalone root loop, or
// NopHooks on every Loop plus a single Attach, which delivers every gadget
// event and every subagent llm_call event once; root-level llm_call events
// then reach no hook.
func Attach(t *tree.Tree, hooks agent.Hooks) func() {
	return t.OnAll(func(ev models.TreeEvent) {
		ctx := context.Background()
		switch ev.Type {
		case models.TreeEventLLMCallAdded, models.TreeEventLLMCallCompleted, models.TreeEventLLMCallFailed:
			forwardLLMCall(ctx, t, hooks, ev)
		case models.TreeEventGadgetStarted, models.TreeEventGadgetCompleted, models.TreeEventGadgetSkipped:
			forwardGadget(ctx, t, hooks, ev)
		}
	})
}

func forwardLLMCall(ctx context.Context, t *tree.Tree, hooks agent.Hooks, ev models.TreeEvent) {
	sc, isSubagent := t.SubagentContext(ev.Node.ID)
	if !isSubagent {
		return
	}
	hc := agent.HookContext{LLMCallNodeID: ev.Node.ID, SubagentContext: &sc}
	data := ev.Node.LLMCall

	switch ev.Type {
	case models.TreeEventLLMCallAdded:
		hooks.OnLLMCallStart(ctx, hc, llm.Request{Model: data.Model})
	case models.TreeEventLLMCallCompleted:
		hooks.OnLLMCallComplete(ctx, hc, data.Response, data.Usage)
	case models.TreeEventLLMCallFailed:
		hooks.OnLLMCallError(ctx, hc, errors.New(data.Error))
	}
}

func forwardGadget(ctx context.Context, t *tree.Tree, hooks agent.Hooks, ev models.TreeEvent) {
	data := ev.Node.Gadget
	sc, hasEnclosing := t.SubagentContext(ev.Node.ID)
	hc := agent.HookContext{GadgetNodeID: ev.Node.ID, GadgetInvocationID: data.InvocationID}
	if hasEnclosing {
		hc.SubagentContext = &sc
	}

	switch ev.Type {
	case models.TreeEventGadgetStarted:
		hooks.OnGadgetExecutionStart(ctx, hc, models.GadgetCall{
			GadgetName:   data.Name,
			InvocationID: data.InvocationID,
			Dependencies: data.Dependencies,
			Parameters:   data.Parameters,
		})
	case models.TreeEventGadgetCompleted:
		if data.Status == models.GadgetFailed {
			hooks.OnGadgetExecutionError(ctx, hc, errors.New(data.Error))
			return
		}
		hooks.OnGadgetExecutionComplete(ctx, hc, gadget.Result{
			Text:  data.Result,
			Cost:  data.Cost,
			Media: data.Media,
		})
	case models.TreeEventGadgetSkipped:
		hooks.OnGadgetExecutionError(ctx, hc, errors.New(ev.SkipReason))
	}
}
