// Package main provides the CLI entry point for CodeSage, an
// autonomous code-analysis agent.
//
// CodeSage answers developer questions about a codebase through a
// tool-augmented reasoning loop and, on its own schedule, mines the
// codebase for reusable knowledge through a resumable background
// exploration loop.
//
// # Basic usage
//
// Index a project into the vector store:
//
//	codesage vectorize --project-root . --project-key myapp
//
// Ask a question:
//
//	codesage chat --project-key myapp "what does PaymentService do?"
//
// Start the background self-evolution worker:
//
//	codesage evolve start --project-key myapp
//
// # Environment variables
//
//   - CODESAGE_CONFIG: path to the YAML configuration file
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: LLM provider credentials
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached,
// separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codesage",
		Short: "CodeSage - autonomous code-analysis agent",
		Long: `CodeSage answers questions about a codebase and mines it for reusable
knowledge in the background.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", resolveDefaultConfigPath(), "Path to YAML configuration file")

	rootCmd.AddCommand(
		buildVectorizeCmd(),
		buildChatCmd(),
		buildEvolveCmd(),
	)
	return rootCmd
}

func resolveDefaultConfigPath() string {
	if p := os.Getenv("CODESAGE_CONFIG"); p != "" {
		return p
	}
	return "codesage.yaml"
}

