package agent

import (
	"context"

	"github.com/zbigniewsobiecki/llmist/pkg/tree"
)

type contextKey int

const (
	treeContextKey contextKey = iota
	gadgetNodeContextKey
)

// WithGadgetContext attaches the execution tree and a gadget invocation's
// own node ID to ctx. executeCall sets this before calling a gadget's
// Execute, so gadgets that need tree access during execution — chiefly the
// subagent gadget pattern (pkg/subagent), which spawns a nested Loop
// sharing this tree — can retrieve it without a parameter threaded through
// every gadget.ExecuteFunc signature.
func WithGadgetContext(ctx context.Context, t *tree.Tree, gadgetNodeID string) context.Context {
	ctx = context.WithValue(ctx, treeContextKey, t)
	ctx = context.WithValue(ctx, gadgetNodeContextKey, gadgetNodeID)
	return ctx
}

// TreeFromContext returns the execution tree attached by WithGadgetContext,
// if any.
func TreeFromContext(ctx context.Context) (*tree.Tree, bool) {
	t, ok := ctx.Value(treeContextKey).(*tree.Tree)
	return t, ok
}

// GadgetNodeIDFromContext returns the current gadget invocation's own tree
// node ID, if WithGadgetContext attached one.
func GadgetNodeIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(gadgetNodeContextKey).(string)
	return id, ok
}
