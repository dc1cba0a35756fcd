package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/callmanager"
	"github.com/openclaw/voicebridge/verr"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <callId>",
		Short: "Show a call's current or final record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			callID := args[0]
			return withManager(cmd.Context(), func(ctx context.Context, m *callmanager.Manager) error {
				if snap, ok := m.GetCall(callID); ok {
					return printJSON(snap)
				}
				history, err := m.GetCallHistory(0)
				if err != nil {
					return err
				}
				for _, snap := range history {
					if snap.CallID == callID {
						return printJSON(snap)
					}
				}
				return verr.New(verr.NotFound, "call not found: "+callID)
			})
		},
	}
	return cmd
}
