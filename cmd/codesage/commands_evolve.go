package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/codesage-ai/codesage/internal/evolution"
)

func buildEvolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evolve",
		Short: "Manage the background self-evolution worker",
	}
	cmd.AddCommand(buildEvolveStartCmd(), buildEvolveStatusCmd())
	return cmd
}

func buildEvolveStartCmd() *cobra.Command {
	var projectKey string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the self-evolution worker for a project until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Evolution.Enabled {
				return fmt.Errorf("self_evolution.enabled is false in %s", configPath)
			}
			svc, err := buildServices(cfg, projectKey)
			if err != nil {
				return err
			}
			defer svc.store.Close()

			explorer := newExplorationLoop(svc)
			evoCfg := evolution.DefaultConfig(projectKey)
			evoCfg.TickInterval = time.Duration(cfg.Evolution.IntervalMs) * time.Millisecond
			evoCfg.MaxExplorationSteps = cfg.Evolution.MaxExplorationSteps

			loop := evolution.New(evoCfg, svc.guard, svc.generator, explorer, svc.repo)
			loop.Prom = svc.metrics
			loop.LLM = svc.llmSvc
			loop.Store = svc.store
			loop.Embed = svc.embed

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if addr := cfg.Observability.MetricsAddr; addr != "" {
				stopMetrics, err := startMetricsServer(addr)
				if err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				defer stopMetrics()
				fmt.Fprintf(cmd.OutOrStdout(), "serving /metrics on %s\n", addr)
			}

			if err := loop.Start(ctx); err != nil {
				return fmt.Errorf("start evolution loop: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "self-evolution loop running for project %q (ctrl-c to stop)\n", projectKey)

			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			return loop.Stop(stopCtx)
		},
	}

	cmd.Flags().StringVar(&projectKey, "project-key", "", "Project key to run the evolution loop for")
	_ = cmd.MarkFlagRequired("project-key")
	return cmd
}

// startMetricsServer serves Prometheus's default registry at /metrics
// over its own listener, separate from the evolution worker's lifetime.
// The returned stop func closes the listener; it does not block for an
// in-flight scrape to finish since the process is about to exit anyway.
func startMetricsServer(addr string) (stop func(), err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = server.Serve(listener) }()
	return func() { _ = server.Close() }, nil
}

func buildEvolveStatusCmd() *cobra.Command {
	var projectKey string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the last persisted self-evolution state for a project",
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

			state, err := svc.repo.LoadEvolutionState(cmd.Context(), projectKey)
			if err != nil {
				return fmt.Errorf("load evolution state: %w", err)
			}
			if state == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no self-evolution state recorded for project %q\n", projectKey)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "project:       %s\n", state.ProjectKey)
			fmt.Fprintf(cmd.OutOrStdout(), "phase:         %s\n", state.Phase)
			fmt.Fprintf(cmd.OutOrStdout(), "iterations:    %d (%d successful)\n", state.TotalIterations, state.SuccessfulIterations)
			fmt.Fprintf(cmd.OutOrStdout(), "last updated:  %s\n", state.LastUpdatedAt.Format(time.RFC3339))
			if state.StopReason != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "stop reason:   %s\n", state.StopReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectKey, "project-key", "", "Project key to report status for")
	_ = cmd.MarkFlagRequired("project-key")
	return cmd
}
