// Package elevenlabs implements tts.Backend against ElevenLabs' WebSocket
// streaming synthesis endpoint, requesting "ulaw_8000" output directly from
// the vendor so no resampling is ever needed downstream — the same
// mulaw-passthrough convention square-key-labs-strawgo-ai's pipeline uses.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openclaw/voicebridge/tts"
	"github.com/openclaw/voicebridge/verr"
)

func init() {
	tts.Register("elevenlabs", func(cfg tts.Config) (tts.Backend, error) {
		return New(cfg)
	})
}

// Backend implements tts.Backend for ElevenLabs.
type Backend struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
}

// New constructs the ElevenLabs backend.
func New(cfg tts.Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, verr.New(verr.TtsUnavailable, "elevenlabs requires APIKey")
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	model := cfg.Model
	if model == "" {
		model = "eleven_turbo_v2"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "wss://api.elevenlabs.io"
	}
	return &Backend{apiKey: cfg.APIKey, voiceID: voiceID, model: model, baseURL: baseURL}, nil
}

func (b *Backend) Name() string { return "elevenlabs" }

type wsInitMessage struct {
	Text          string         `json:"text"`
	VoiceSettings map[string]any `json:"voice_settings"`
	XIAPIKey      string         `json:"xi_api_key"`
}

type wsFlushMessage struct {
	Text string `json:"text"`
}

type wsAudioChunk struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error,omitempty"`
}

// SynthesizeForTelephony dials the streaming-input WS endpoint, requests
// "ulaw_8000" output, and concatenates the base64-decoded mu-law chunks
// into one contiguous byte stream.
func (b *Backend) SynthesizeForTelephony(ctx context.Context, text string) ([]byte, error) {
	u := fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=ulaw_8000",
		b.baseURL, url.PathEscape(b.voiceID), url.QueryEscape(b.model))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	conn, _, err := dialer.DialContext(dialCtx, u, header)
	if err != nil {
		return nil, verr.Wrap(verr.TtsUnavailable, "elevenlabs websocket dial failed", err)
	}
	defer func() { _ = conn.Close() }()

	init := wsInitMessage{
		Text:          " ",
		VoiceSettings: map[string]any{"stability": 0.5, "similarity_boost": 0.8},
		XIAPIKey:      b.apiKey,
	}
	if err := conn.WriteJSON(init); err != nil {
		return nil, verr.Wrap(verr.TtsUnavailable, "elevenlabs init frame failed", err)
	}
	if err := conn.WriteJSON(wsFlushMessage{Text: text}); err != nil {
		return nil, verr.Wrap(verr.TtsUnavailable, "elevenlabs text frame failed", err)
	}
	if err := conn.WriteJSON(wsFlushMessage{Text: ""}); err != nil {
		return nil, verr.Wrap(verr.TtsUnavailable, "elevenlabs flush frame failed", err)
	}

	var out []byte
	for {
		var chunk wsAudioChunk
		if err := conn.ReadJSON(&chunk); err != nil {
			if len(out) > 0 {
				return out, nil
			}
			return nil, verr.Wrap(verr.TtsUnavailable, "elevenlabs stream ended without audio", err)
		}
		if chunk.Error != "" {
			return nil, verr.New(verr.TtsUnavailable, "elevenlabs error: "+chunk.Error)
		}
		if chunk.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				continue
			}
			out = append(out, decoded...)
		}
		if chunk.IsFinal {
			return out, nil
		}
	}
}
