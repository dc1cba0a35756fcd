package runtime

import (
	"context"
	"strings"
	"testing"

	rtconfig "github.com/openclaw/voicebridge/runtime/config"
)

func TestResolvePublicURLPrefersExplicitConfig(t *testing.T) {
	rt := &Runtime{cfg: &rtconfig.Config{PublicURL: "https://example.ngrok.io"}}
	got, err := rt.resolvePublicURL(context.Background(), 8080)
	if err != nil {
		t.Fatalf("resolvePublicURL: %v", err)
	}
	if got != "https://example.ngrok.io" {
		t.Fatalf("got %q, want the explicit publicUrl unchanged", got)
	}
}

func TestResolvePublicURLRejectsUnimplementedTunnelProvider(t *testing.T) {
	cfg := &rtconfig.Config{}
	cfg.Tunnel.Provider = "ngrok"
	rt := &Runtime{cfg: cfg}

	_, err := rt.resolvePublicURL(context.Background(), 8080)
	if err == nil {
		t.Fatal("expected an error for an unimplemented tunnel provider")
	}
	if !strings.Contains(err.Error(), "ngrok") {
		t.Fatalf("expected error to name the configured provider, got %v", err)
	}
}

func TestResolvePublicURLFallsBackToLocalAddress(t *testing.T) {
	rt := &Runtime{cfg: &rtconfig.Config{}}
	got, err := rt.resolvePublicURL(context.Background(), 9000)
	if err != nil {
		t.Fatalf("resolvePublicURL: %v", err)
	}
	if !strings.Contains(got, ":9000") {
		t.Fatalf("expected the fallback URL to carry the port, got %q", got)
	}
	if !strings.HasPrefix(got, "http://") {
		t.Fatalf("expected an http:// fallback URL, got %q", got)
	}
}

func TestPortFromAddrParsesTrailingPort(t *testing.T) {
	cases := map[string]int{
		":8080":           8080,
		"0.0.0.0:9090":    9090,
		"127.0.0.1:3000":  3000,
		"no-colon-at-all": 8080,
	}
	for addr, want := range cases {
		if got := portFromAddr(addr); got != want {
			t.Errorf("portFromAddr(%q) = %d, want %d", addr, got, want)
		}
	}
}

func TestSelectProviderRejectsUnknownName(t *testing.T) {
	cfg := &rtconfig.Config{Provider: "not-a-real-provider"}
	if _, err := selectProvider(cfg, nil); err == nil {
		t.Fatal("expected an error for an unknown provider name")
	}
}

func TestSelectProviderMock(t *testing.T) {
	cfg := &rtconfig.Config{Provider: "mock"}
	p, err := selectProvider(cfg, nil)
	if err != nil {
		t.Fatalf("selectProvider: %v", err)
	}
	if p.Name() != "mock" {
		t.Fatalf("expected the mock provider, got %q", p.Name())
	}
}
