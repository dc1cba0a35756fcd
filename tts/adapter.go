// Package tts implements the telephony-TTS adapter (spec.md §4.2): turning
// text into mu-law/8kHz/mono audio via a configured backend. The core-level
// config is deep-merged with any plugin override before a backend is
// constructed, and the "edge" backend name is refused outright since
// telephony requires PCM-grade (mu-law) output, not a browser-oriented
// codec.
package tts

import (
	"context"

	"github.com/openclaw/voicebridge/verr"
)

// Backend synthesizes text into mu-law/8kHz/mono audio for telephony.
type Backend interface {
	Name() string
	SynthesizeForTelephony(ctx context.Context, text string) ([]byte, error)
}

// Config is the deep-mergeable TTS configuration. Core sets the baseline;
// a per-call/plugin Override may replace any individually-set field.
type Config struct {
	Provider   string
	APIKey     string
	VoiceID    string
	Model      string
	BaseURL    string
}

// Merge deep-merges override onto base: any non-zero field in override wins,
// any zero field falls back to base. Neither argument is mutated.
func Merge(base, override Config) Config {
	merged := base
	if override.Provider != "" {
		merged.Provider = override.Provider
	}
	if override.APIKey != "" {
		merged.APIKey = override.APIKey
	}
	if override.VoiceID != "" {
		merged.VoiceID = override.VoiceID
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}
	return merged
}

// BackendFactory constructs a Backend from a resolved Config. Registered
// per provider name so New doesn't need a compile-time dependency on every
// backend package.
type BackendFactory func(Config) (Backend, error)

var factories = map[string]BackendFactory{}

// Register adds a backend factory under name. Called from backend package
// init()s (tts/elevenlabs does this).
func Register(name string, factory BackendFactory) {
	factories[name] = factory
}

// Adapter is the constructed, ready-to-use telephony-TTS adapter.
type Adapter struct {
	backend Backend
}

// New deep-merges core and override config, refuses the "edge" provider,
// and constructs the configured backend. Returns TtsUnavailable if
// required credentials are missing so the caller can degrade to the
// provider-native speak command per spec.md §4.2.
func New(core, override Config) (*Adapter, error) {
	cfg := Merge(core, override)

	if cfg.Provider == "edge" {
		return nil, verr.New(verr.ConfigInvalid, `tts provider "edge" is refused: telephony requires mu-law/8kHz output, not a browser TTS codec`)
	}
	if cfg.Provider == "" {
		return nil, verr.New(verr.ConfigInvalid, "tts provider is required")
	}

	factory, ok := factories[cfg.Provider]
	if !ok {
		return nil, verr.New(verr.ConfigInvalid, "unknown tts provider: "+cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, verr.New(verr.TtsUnavailable, "tts provider "+cfg.Provider+" is missing required credentials")
	}

	backend, err := factory(cfg)
	if err != nil {
		return nil, verr.Wrap(verr.TtsUnavailable, "failed to construct tts backend", err)
	}
	return &Adapter{backend: backend}, nil
}

// SynthesizeForTelephony renders text to mu-law/8kHz/mono bytes.
func (a *Adapter) SynthesizeForTelephony(ctx context.Context, text string) ([]byte, error) {
	return a.backend.SynthesizeForTelephony(ctx, text)
}

// Name returns the underlying backend's name.
func (a *Adapter) Name() string { return a.backend.Name() }
