package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/callmanager"
)

func callCmd() *cobra.Command {
	var to, from, provider, sessionKey string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place an outbound call",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd.Context(), func(ctx context.Context, m *callmanager.Manager) error {
				res := m.InitiateCall(ctx, callmanager.InitiateCallInput{
					To:         to,
					From:       from,
					Provider:   provider,
					SessionKey: sessionKey,
				})
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
	cmd.Flags().StringVar(&to, "to", "", "destination number (E.164, or national in the configured default region)")
	cmd.Flags().StringVar(&from, "from", "", "caller ID to present")
	cmd.Flags().StringVar(&provider, "provider", "", "carrier provider (defaults to config's provider)")
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "opaque session key, e.g. telegram:dm:<chatId>")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
