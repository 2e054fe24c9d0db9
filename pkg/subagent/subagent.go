// Package subagent implements the recursive subagent gadget pattern
// (spec.md §4.H): a gadget whose Execute constructs a new agent.Loop
// sharing the parent's execution tree and runs it to completion as a
// nested conversation.
package subagent

import (
	"context"
	"fmt"

	"github.com/zbigniewsobiecki/llmist/pkg/agent"
	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/markers"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
)

// defaultMaxDepth bounds recursive subagent nesting when Config.MaxDepth is
// unset, per spec.md §4.H's "implementations MUST cap depth ... to prevent
// runaway recursion".
const defaultMaxDepth = 5

// Config configures a subagent gadget's own nested loop.
type Config struct {
	Name        string
	Description string

	Model    string
	Provider llm.Provider
	Registry *gadget.Registry
	Markers  markers.Config
	Encoding encoding.Encoding

	MaxIterations  int
	MaxConcurrency int
	MaxTokens      int

	// MaxDepth caps recursive nesting; zero means defaultMaxDepth.
	MaxDepth int

	// SystemPromptPrefix, if set, is prepended to the nested loop's own
	// generated system prompt — typically a description of the subagent's
	// role distinct from the parent's.
	SystemPromptPrefix string
}

// New builds a gadget implementing the subagent pattern. Its single
// required parameter is "task", the instruction handed to the nested
// agent as its seed user turn; the gadget's result is the nested loop's
// final text.
func New(cfg Config) *gadget.Gadget {
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	return &gadget.Gadget{
		Name:        cfg.Name,
		Description: cfg.Description,
		ParameterSchema: map[string]any{
			"type":     "object",
			"required": []any{"task"},
			"properties": map[string]any{
				"task": map[string]any{
					"type":        "string",
					"description": "instruction for the nested agent",
				},
			},
		},
		Execute: func(ctx context.Context, params map[string]any) (gadget.Result, error) {
			return execute(ctx, cfg, maxDepth, params)
		},
	}
}

func execute(ctx context.Context, cfg Config, maxDepth int, params map[string]any) (gadget.Result, error) {
	t, ok := agent.TreeFromContext(ctx)
	if !ok {
		return gadget.Result{}, fmt.Errorf("subagent %q: no execution tree in context; must run under an agent.Loop", cfg.Name)
	}
	nodeID, ok := agent.GadgetNodeIDFromContext(ctx)
	if !ok {
		return gadget.Result{}, fmt.Errorf("subagent %q: no gadget node ID in context", cfg.Name)
	}

	// sc.Depth counts gadget ancestors strictly above this invocation;
	// this invocation's own nested loop would sit one level deeper still.
	if sc, hasEnclosing := t.SubagentContext(nodeID); hasEnclosing && sc.Depth+1 >= maxDepth {
		return gadget.Result{}, fmt.Errorf("subagent %q: max recursion depth %d reached", cfg.Name, maxDepth)
	}

	task, _ := params["task"].(string)
	if task == "" {
		return gadget.Result{}, fmt.Errorf("subagent %q: \"task\" parameter is required", cfg.Name)
	}

	nested := agent.New(agent.Config{
		Model:              cfg.Model,
		Provider:           cfg.Provider,
		Registry:           cfg.Registry,
		Markers:            cfg.Markers,
		Encoding:           cfg.Encoding,
		MaxIterations:      cfg.MaxIterations,
		MaxConcurrency:     cfg.MaxConcurrency,
		MaxTokens:          cfg.MaxTokens,
		Tree:               t,
		ParentGadgetNodeID: nodeID,
	})

	system := nested.SystemPrompt()
	if cfg.SystemPromptPrefix != "" {
		system = models.NewTextMessage(models.RoleSystem, cfg.SystemPromptPrefix+"\n\n"+system.Text())
	}
	seed := []models.Message{system, models.NewTextMessage(models.RoleUser, task)}

	res, err := nested.Run(ctx, seed)
	if err != nil {
		return gadget.Result{}, fmt.Errorf("subagent %q: %w", cfg.Name, err)
	}
	return gadget.TextResult(res.FinalText), nil
}
