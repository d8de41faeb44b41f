package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codesage-ai/codesage/internal/vectorize"
)

func buildVectorizeCmd() *cobra.Command {
	var (
		projectRoot string
		projectKey  string
		extensions  string
		cachePath   string
		force       bool
	)

	cmd := &cobra.Command{
		Use:   "vectorize",
		Short: "Walk a project and synchronize it into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			svc, err := buildServices(cfg, projectKey)
			if err != nil {
				return err
			}
			defer svc.store.Close()

			var exts []string
			if strings.TrimSpace(extensions) != "" {
				for _, e := range strings.Split(extensions, ",") {
					exts = append(exts, strings.TrimSpace(e))
				}
			}

			pipeline, err := vectorize.New(vectorize.Config{
				ProjectRoot: projectRoot,
				ProjectKey:  projectKey,
				Extensions:  exts,
				CachePath:   cachePath,
			}, &vectorize.LLMSummarizer{Service: svc.llmSvc}, svc.embed, svc.store)
			if err != nil {
				return fmt.Errorf("build pipeline: %w", err)
			}

			result, err := pipeline.Run(cmd.Context(), vectorize.RunOptions{ForceUpdate: force})
			if err != nil {
				return fmt.Errorf("run pipeline: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "processed %d files (%d errors) in %s\n",
				len(result.Files), len(result.Errors), result.Duration)
			for _, f := range result.Files {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %s\n", f.Action, f.Path)
			}
			for path, err := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "  error: %s: %v\n", path, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project-root", ".", "Root directory of the project to ingest")
	cmd.Flags().StringVar(&projectKey, "project-key", "", "Project key under which fragments are stored")
	cmd.Flags().StringVar(&extensions, "extensions", "", "Comma-separated file extensions to ingest (e.g. .go,.py)")
	cmd.Flags().StringVar(&cachePath, "cache", ".codesage-hashcache.json", "Path to the persisted hash cache")
	cmd.Flags().BoolVar(&force, "force", false, "Re-summarize and re-embed every matched file")
	_ = cmd.MarkFlagRequired("project-key")

	return cmd
}
