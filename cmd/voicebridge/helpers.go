package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/openclaw/voicebridge/callmanager"
	"github.com/openclaw/voicebridge/runtime"
	rtconfig "github.com/openclaw/voicebridge/runtime/config"
)

// errString turns an already-printed JSON error message into a non-nil error
// so RunE reports a non-zero exit without printing the message a second
// time.
func errString(msg string) error {
	if msg == "" {
		msg = "failed"
	}
	return errors.New(msg)
}

func loadConfig() (*rtconfig.Config, error) {
	return rtconfig.Load(viper.GetString("config"))
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

// withManager constructs a Runtime from the configured file, runs fn against
// its call manager, and closes it on return — the same short-lived,
// fresh-per-invocation pattern anasdox-workline/cmd/wl's withEngine/withRepo
// use against their own backing store.
func withManager(ctx context.Context, fn func(ctx context.Context, m *callmanager.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := runtime.New(cfg, newLogger())
	if err != nil {
		return err
	}
	defer rt.Manager().Close()
	return fn(ctx, rt.Manager())
}

// portFromAddrFlag extracts the port from a "host:port" listen address flag,
// defaulting to 8080 when absent.
func portFromAddrFlag(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var port int
			if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err == nil {
				return port
			}
			break
		}
	}
	return 8080
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
