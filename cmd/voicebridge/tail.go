package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/callmanager"
)

func tailCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "List recent calls, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(ctx context.Context, m *callmanager.Manager) error {
				history, err := m.GetCallHistory(limit)
				if err != nil {
					return err
				}
				return printJSON(history)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of calls to list")
	return cmd
}
