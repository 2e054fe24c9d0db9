// Package main provides the CLI entry point for llmist, a demo runner for
// the textual tool-call agent protocol described in spec.md.
//
// # Basic Usage
//
// Run the demo agent against a YAML run config:
//
//	llmist run --config llmist.yaml --message "what's 2+2?"
//
// Render the system prompt a config would produce, without running it:
//
//	llmist prompt --config llmist.yaml
//
// Inspect a JSONL execution trace recorded by a previous run:
//
//	llmist trace dump run.jsonl
//
// # Environment Variables
//
//   - LLMIST_CONFIG: path to the YAML run config (default: llmist.yaml)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "llmist",
		Short: "llmist - textual tool-call agent runtime demo",
		Long: `llmist drives an agent loop that parses gadget calls out of streamed
LLM text, executes them as a dependency-ordered concurrent DAG, and feeds
the results back for the next iteration.

Documentation: spec.md in the module root.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildPromptCmd(),
		buildGadgetsCmd(),
		buildTraceCmd(),
	)

	return rootCmd
}
