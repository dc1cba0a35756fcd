package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/callmanager"
)

func speakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speak <callId> <text>",
		Short: "Speak text onto a live call",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callID, text := args[0], args[1]
			return withManager(cmd.Context(), func(ctx context.Context, m *callmanager.Manager) error {
				err := m.Speak(ctx, callID, text)
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
