package main

import "testing"

func TestPortFromAddrFlag(t *testing.T) {
	cases := map[string]int{
		":8080":          8080,
		"0.0.0.0:9090":   9090,
		"127.0.0.1:3000": 3000,
		"no-port-here":   8080,
	}
	for addr, want := range cases {
		if got := portFromAddrFlag(addr); got != want {
			t.Errorf("portFromAddrFlag(%q) = %d, want %d", addr, got, want)
		}
	}
}

func TestErrStringDefaultsWhenEmpty(t *testing.T) {
	if got := errString(""); got.Error() != "failed" {
		t.Fatalf("got %q, want %q", got.Error(), "failed")
	}
	if got := errString("boom"); got.Error() != "boom" {
		t.Fatalf("got %q, want %q", got.Error(), "boom")
	}
}

func TestRegisterCommandsWiresAllSubcommands(t *testing.T) {
	registerCommands()
	want := []string{"serve", "call", "continue", "speak", "end", "status", "tail", "expose"}
	for _, name := range want {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected rootCmd to have a %q subcommand registered", name)
		}
	}
}
