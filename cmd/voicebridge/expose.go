package main

import (
	"github.com/spf13/cobra"

	"github.com/openclaw/voicebridge/runtime"
)

func exposeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "expose",
		Short: "Resolve and print the public URL serve would bind, without listening",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := runtime.New(cfg, newLogger())
			if err != nil {
				return err
			}
			defer rt.Manager().Close()

			publicURL, err := rt.ResolvePublicURL(cmd.Context(), portFromAddrFlag(addr))
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"publicUrl": publicURL})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "address serve would listen on")
	return cmd
}
