// Package runtime assembles components C1-C9 into a running service
// (spec.md §4.9): config, provider selection, public URL resolution, the
// call manager, the bridge, and the outcome pipeline, wired the way
// anasdox-workline/cmd/wl wires its engine/server/db for `wl serve`.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openclaw/voicebridge/bridge"
	"github.com/openclaw/voicebridge/callmanager"
	"github.com/openclaw/voicebridge/outcome"
	"github.com/openclaw/voicebridge/provider"
	"github.com/openclaw/voicebridge/provider/mock"
	"github.com/openclaw/voicebridge/provider/plivo"
	"github.com/openclaw/voicebridge/provider/telnyx"
	"github.com/openclaw/voicebridge/provider/twilio"
	"github.com/openclaw/voicebridge/provider/voximplant"
	"github.com/openclaw/voicebridge/realtime"
	rtconfig "github.com/openclaw/voicebridge/runtime/config"
	"github.com/openclaw/voicebridge/server"
	"github.com/openclaw/voicebridge/tts"
	_ "github.com/openclaw/voicebridge/tts/elevenlabs"
)

// Runtime is the fully wired service: config, provider, call manager,
// bridge, HTTP/WS server, and outcome pipeline.
type Runtime struct {
	cfg *rtconfig.Config
	log *slog.Logger

	prov provider.Provider
	cm   *callmanager.Manager
	br   *bridge.Bridge
	ttsA *tts.Adapter
	out  *outcome.Pipeline

	tunnel    Tunnel
	publicURL string

	streams *streamRegistry

	httpSrv *http.Server
}

// New builds every component per spec.md §4.9 steps 1-4 but does not start
// listening; call Start to bind the HTTP server.
func New(cfg *rtconfig.Config, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SkipSignatureVerification {
		log.Warn("webhook signature verification is DISABLED — every inbound webhook will be trusted unconditionally")
	}

	prov, err := selectProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{cfg: cfg, log: log, prov: prov, streams: newStreamRegistry()}

	rt.cm, err = callmanager.New(callmanager.Config{
		MaxConcurrentCalls:  cfg.MaxConcurrentCalls,
		RingTimeout:         cfg.RingTimeout(),
		SilenceTimeout:      cfg.SilenceTimeout(),
		MaxDuration:         cfg.MaxDuration(),
		TranscriptTimeout:   cfg.TranscriptTimeout(),
		HistoryPath:         cfg.HistoryPath,
		DefaultRegion:       cfg.DefaultRegion,
	}, callmanager.Dependencies{
		Providers:       map[string]provider.Provider{cfg.Provider: prov},
		DefaultProvider: cfg.Provider,
		SpeakStreaming:  rt.speakStreaming,
	})
	if err != nil {
		return nil, err
	}

	rt.br = bridge.New(bridge.Hooks{
		ResolveCallIDByToken: rt.resolveCallIDByToken,
		ShouldAcceptStream:   rt.shouldAcceptStream,
		OnStreamAccepted:     rt.onStreamAccepted,
		OnStreamClosed:       rt.onStreamClosed,
		OnDTMF:               rt.onDTMF,
	}, log)

	// Per spec.md §4.9 step 4: realtime-conversation mode owns assistant
	// audio directly, so no separate telephony-TTS adapter is wired.
	if cfg.Streaming.Mode != "realtime-conversation" {
		ttsA, err := tts.New(tts.Config{
			Provider: cfg.TTS.Backend,
			VoiceID:  cfg.TTS.VoiceID,
		}, tts.Config{})
		if err != nil {
			return nil, err
		}
		rt.ttsA = ttsA
		if setter, ok := prov.(provider.TTSProviderSetter); ok {
			setter.SetTTSProvider(ttsA)
		}
	}

	if setter, ok := prov.(provider.MediaStreamHandlerSetter); ok {
		setter.SetMediaStreamHandler(rt.br)
	}

	rt.out = &outcome.Pipeline{
		Summarizer: outcome.NewOpenAISummarizer(cfg.OpenAIAPIKey, ""),
		Chat:       &MockChatChannel{Log: log},
		Agent:      NewMockAgentRuntime(),
		Log:        log,
	}
	rt.cm.SetOnCallEndedHook(func(s callmanager.Snapshot) {
		go rt.out.Run(context.Background(), s)
	})

	return rt, nil
}

func selectProvider(cfg *rtconfig.Config, log *slog.Logger) (provider.Provider, error) {
	creds := cfg.Credentials
	switch cfg.Provider {
	case "twilio":
		return twilio.New(twilio.Config{
			AccountSID:          creds["accountSid"],
			AuthToken:           creds["authToken"],
			SkipSignatureVerify: cfg.SkipSignatureVerification,
			StreamPath:          cfg.Streaming.StreamPath,
			StreamingEnabled:    true,
		})
	case "telnyx":
		return telnyx.New(telnyx.Config{
			APIKey:              creds["apiKey"],
			PublicKey:           creds["publicKey"],
			ConnectionID:        creds["connectionId"],
			SkipSignatureVerify: cfg.SkipSignatureVerification,
		})
	case "plivo":
		return plivo.New(plivo.Config{
			AuthID:              creds["authId"],
			AuthToken:           creds["authToken"],
			SkipSignatureVerify: cfg.SkipSignatureVerification,
			StreamPath:          cfg.Streaming.StreamPath,
		})
	case "voximplant":
		return voximplant.New(voximplant.Config{
			ManagementJWT:  creds["managementJwt"],
			AccountID:      creds["accountId"],
			KeyID:          creds["keyId"],
			PrivateKeyPEM:  creds["privateKeyPem"],
			ApplicationID:  creds["applicationId"],
			SharedSecret:   creds["sharedSecret"],
			StreamPath:     cfg.Streaming.StreamPath,
		})
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// resolvePublicURL picks the public URL: an explicit publicUrl wins; a
// configured tunnel provider is an error, since none is implemented;
// otherwise localTunnel's local address is used. There is no separate
// LAN-exposure step: lan.enabled is not read.
func (rt *Runtime) resolvePublicURL(ctx context.Context, port int) (string, error) {
	if rt.cfg.PublicURL != "" {
		return rt.cfg.PublicURL, nil
	}
	if rt.cfg.Tunnel.Provider != "" {
		return "", fmt.Errorf("tunnel provider %q configured but not implemented; set publicUrl or leave tunnel.provider empty", rt.cfg.Tunnel.Provider)
	}
	rt.tunnel = localTunnel{}
	return rt.tunnel.Open(ctx, port)
}

// Start resolves the public URL, wires it into the provider, and binds the
// HTTP/WS server (spec.md §4.9 step 3-4).
func (rt *Runtime) Start(ctx context.Context, addr string) error {
	port := portFromAddr(addr)
	publicURL, err := rt.resolvePublicURL(ctx, port)
	if err != nil {
		return err
	}
	rt.publicURL = publicURL
	if setter, ok := rt.prov.(provider.PublicURLSetter); ok {
		setter.SetPublicURL(publicURL)
	}

	handler := server.New(server.Config{
		WebhookPath: rt.cfg.Serve.Path,
		StreamPath:  rt.cfg.Streaming.StreamPath,
	}, server.Hooks{
		CurrentProvider: func() provider.Provider { return rt.prov },
		Dispatch:        rt.cm.OnProviderEvent,
		Bridge:          rt.br,
	}, rt.log)

	rt.httpSrv = &http.Server{Addr: addr, Handler: handler}
	rt.log.Info("voicebridge listening", "addr", addr, "publicUrl", publicURL, "provider", rt.cfg.Provider)
	err = rt.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server (waiting at most 10s for open requests),
// then closes the tunnel and the call history log. It does not wait for
// in-flight calls to end.
func (rt *Runtime) Stop(ctx context.Context) error {
	if rt.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := rt.httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	if rt.tunnel != nil {
		_ = rt.tunnel.Close()
	}
	return rt.cm.Close()
}

func (rt *Runtime) Manager() *callmanager.Manager { return rt.cm }

// ResolvePublicURL runs resolvePublicURL (explicit publicUrl, else the
// local fallback; a configured tunnel provider is an error) without
// binding a listener, for the `expose` CLI command.
func (rt *Runtime) ResolvePublicURL(ctx context.Context, port int) (string, error) {
	return rt.resolvePublicURL(ctx, port)
}

func portFromAddr(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			var port int
			fmt.Sscanf(addr[i+1:], "%d", &port)
			return port
		}
	}
	return 8080
}
