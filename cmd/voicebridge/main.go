// Command voicebridge operates a telephony voice-call bridge: `serve` runs
// the long-lived webhook/WS service, the remaining subcommands are thin
// operational tools bound through viper the way
// anasdox-workline/cmd/wl's `wl` binds WORKLINE_*.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "voicebridge",
	Short: "Telephony voice-call bridge",
	Long: `voicebridge answers and places calls across Twilio, Telnyx, Plivo,
and Voximplant, bridges carrier audio to a realtime speech model, tracks
per-call state and transcript, and delivers an LLM-summarized outcome with
a calendar link once the call ends.

Every subcommand prints one JSON document to stdout and exits non-zero on
error.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("VOICEBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "voicebridge.yml", "config file path")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(callCmd())
	rootCmd.AddCommand(continueCmd())
	rootCmd.AddCommand(speakCmd())
	rootCmd.AddCommand(endCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(exposeCmd())
}
