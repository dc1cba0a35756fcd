package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/callmanager"
)

func continueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "continue <callId> <message>",
		Short: "Advance a call with an externally-supplied message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			callID, message := args[0], args[1]
			return withManager(cmd.Context(), func(ctx context.Context, m *callmanager.Manager) error {
				res := m.ContinueCall(ctx, callID, message)
				if err := printJSON(res); err != nil {
					return err
				}
				if !res.Success {
					return errString(res.Error)
				}
				return nil
			})
		},
	}
	return cmd
}
