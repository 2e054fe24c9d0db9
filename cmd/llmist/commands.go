package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/zbigniewsobiecki/llmist/pkg/agent"
	"github.com/zbigniewsobiecki/llmist/pkg/config"
	"github.com/zbigniewsobiecki/llmist/pkg/encoding"
	"github.com/zbigniewsobiecki/llmist/pkg/gadget"
	"github.com/zbigniewsobiecki/llmist/pkg/llm"
	"github.com/zbigniewsobiecki/llmist/pkg/metrics"
	"github.com/zbigniewsobiecki/llmist/pkg/models"
	"github.com/zbigniewsobiecki/llmist/pkg/observer"
	"github.com/zbigniewsobiecki/llmist/pkg/telemetry"
	"github.com/zbigniewsobiecki/llmist/pkg/trace"
	"github.com/zbigniewsobiecki/llmist/pkg/tree"
)

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("LLMIST_CONFIG")); p != "" {
		return p
	}
	return "llmist.yaml"
}

// demoRegistry builds a small toy gadget registry: Echo reflects its input,
// Add sums two numbers. Real callers wire their own gadgets; this exists so
// `llmist run`/`llmist prompt` work out of the box against the Scripted
// provider.
func demoRegistry() *gadget.Registry {
	reg := gadget.NewRegistry()
	_ = reg.Register(&gadget.Gadget{
		Name:        "Echo",
		Description: "Echoes the given text back unchanged.",
		ParameterSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
		Examples: []gadget.Example{{Description: "echo a greeting", Parameters: map[string]any{"text": "hello"}}},
		Execute: func(_ context.Context, params map[string]any) (gadget.Result, error) {
			text, _ := params["text"].(string)
			return gadget.TextResult(text), nil
		},
	})
	_ = reg.Register(&gadget.Gadget{
		Name:        "Add",
		Description: "Adds two numbers.",
		ParameterSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "string", "description": "a decimal number"},
				"b": map[string]any{"type": "string", "description": "a decimal number"},
			},
			"required": []any{"a", "b"},
		},
		Examples: []gadget.Example{{Description: "add two numbers", Parameters: map[string]any{"a": 2, "b": 3}}},
		Execute: func(_ context.Context, params map[string]any) (gadget.Result, error) {
			var a, b float64
			if _, err := fmt.Sscan(fmt.Sprint(params["a"]), &a); err != nil {
				return gadget.Result{}, fmt.Errorf("parameter a: %w", err)
			}
			if _, err := fmt.Sscan(fmt.Sprint(params["b"]), &b); err != nil {
				return gadget.Result{}, fmt.Errorf("parameter b: %w", err)
			}
			return gadget.TextResult(fmt.Sprintf("%g", a+b)), nil
		},
	})
	return reg
}

// buildLoop wires a config.Config into an agent.Loop using the demo
// registry and a deterministic Scripted provider that replays canned
// responses, so the demo needs no network calls. responses, if non-empty,
// overrides the scripted script.
// t and hooks let callers observe the run via the execution tree.
func buildLoop(cfg *config.Config, responses []string, t *tree.Tree, hooks agent.Hooks) *agent.Loop {
	if len(responses) == 0 {
		responses = []string{"Sure, let me help with that."}
	}
	return agent.New(agent.Config{
		Model:          cfg.Model,
		Provider:       llm.NewScripted(responses...),
		Registry:       demoRegistry(),
		Markers:        cfg.Markers.Resolve(),
		Encoding:       encoding.Encoding(cfg.Encoding),
		MaxIterations:  cfg.Run.MaxIterations,
		MaxConcurrency: cfg.Run.MaxConcurrency,
		MaxTokens:      cfg.Run.MaxTokens,
		RunTimeout:     cfg.Run.Timeout,
		Hooks:          hooks,
		Tree:           t,
	})
}

func buildPromptCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Render the system prompt a config would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			loop := buildLoop(cfg, nil, nil, nil)
			fmt.Fprintln(cmd.OutOrStdout(), loop.SystemPrompt().Text())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildGadgetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gadgets",
		Short: "List the demo gadget registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, g := range demoRegistry().All() {
				fmt.Fprintf(out, "%s\t%s\n", g.Name, g.Description)
			}
			return nil
		},
	}
	return cmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		message    string
		tracePath  string
		response   string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent loop once against a seed user message",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := cfg.Logging.Logger()

			var responses []string
			if strings.TrimSpace(response) != "" {
				responses = []string{response}
			}

			var hooks agent.Hooks = agent.NopHooks{}
			if cfg.Metrics.Enabled {
				hooks = metrics.Wrap(hooks, metrics.New(prometheus.DefaultRegisterer))
			}
			if cfg.Tracing.Enabled {
				provider, shutdown, err := telemetry.NewProvider("llmist", true)
				if err != nil {
					return fmt.Errorf("start tracer: %w", err)
				}
				defer func() { _ = shutdown(cmd.Context()) }()
				hooks = telemetry.Wrap(hooks, telemetry.Tracer(provider, "llmist/run"))
			}

			t := tree.New()
			if strings.TrimSpace(tracePath) != "" {
				writer, err := trace.NewFile(tracePath, uuid.NewString(), trace.WithRedactor(trace.DefaultRedactor))
				if err != nil {
					return fmt.Errorf("open trace file: %w", err)
				}
				defer func() { _ = writer.Close() }()
				detach := writer.Attach(t)
				defer detach()
			}
			detach := observer.Attach(t, hooks)
			defer detach()

			loop := buildLoop(cfg, responses, t, hooks)
			seed := []models.Message{loop.SystemPrompt(), models.NewTextMessage(models.RoleUser, message)}
			result, err := loop.Run(cmd.Context(), seed)
			if err != nil {
				logger.Error("run failed", "error", err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", result.FinalText)
			fmt.Fprintf(out, "(finished: %s, iterations: %d)\n", result.FinishReason, result.Iterations)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Seed user message")
	cmd.Flags().StringVar(&response, "response", "", "Override the scripted provider's single response")
	cmd.Flags().StringVar(&tracePath, "trace", "", "Write a JSONL execution trace to this path")
	return cmd
}

func buildTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect JSONL execution traces recorded by `llmist run --trace`",
	}
	cmd.AddCommand(buildTraceDumpCmd())
	return cmd
}

func buildTraceDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print a trace file's header and events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			reader, err := trace.NewReader(f)
			if err != nil {
				return fmt.Errorf("read trace header: %w", err)
			}
			out := cmd.OutOrStdout()
			header := reader.Header()
			fmt.Fprintf(out, "run %s started %s\n", header.RunID, header.StartedAt)

			events, err := reader.ReadAll()
			if err != nil {
				return fmt.Errorf("read trace events: %w", err)
			}
			for _, ev := range events {
				fmt.Fprintf(out, "%s\t%s\n", ev.Type, ev.Node.ID)
			}
			return nil
		},
	}
	return cmd
}
