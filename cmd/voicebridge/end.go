package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/callmanager"
)

func endCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "end <callId>",
		Short: "Hang up a live call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callID := args[0]
			return withManager(cmd.Context(), func(ctx context.Context, m *callmanager.Manager) error {
				err := m.EndCall(ctx, callID, true)
				result := map[string]any{"success": err == nil}
				if err != nil {
					result["error"] = err.Error()
				}
				if jerr := printJSON(result); jerr != nil {
					return jerr
				}
				return err
			})
		},
	}
	return cmd
}
