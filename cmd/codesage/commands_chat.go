package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codesage-ai/codesage/internal/react"
	"github.com/codesage-ai/codesage/pkg/models"
)

func buildChatCmd() *cobra.Command {
	var projectKey string

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask a question about a project, or start an interactive session",
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

			loop := newExplorer(svc)
			session := &models.Session{ID: "cli-session", ProjectKey: projectKey}

			if len(args) > 0 {
				return runTurn(cmd, loop, session, strings.Join(args, " "))
			}
			return runChatREPL(cmd, loop, session)
		},
	}

	cmd.Flags().StringVar(&projectKey, "project-key", "", "Project key to ask about")
	_ = cmd.MarkFlagRequired("project-key")
	return cmd
}

// runChatREPL reads one line at a time from stdin until EOF or "exit",
// feeding each into the same session so follow-up questions retain
// context.
func runChatREPL(cmd *cobra.Command, loop *react.Loop, session *models.Session) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	for {
		fmt.Fprint(cmd.OutOrStdout(), "> ")
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			if line == "exit" || line == "quit" {
				return nil
			}
			if runErr := runTurn(cmd, loop, session, line); runErr != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", runErr)
			}
		}
		if err != nil {
			return nil
		}
	}
}

func runTurn(cmd *cobra.Command, loop *react.Loop, session *models.Session, input string) error {
	sink := react.SinkFunc(func(p models.Part) {
		if p.Kind == models.PartText {
			fmt.Fprint(cmd.OutOrStdout(), p.Text)
		}
	})
	reply, err := loop.Process(cmd.Context(), session, input, sink)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil && reply == nil {
		return err
	}
	return nil
}
