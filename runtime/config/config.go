// Package config loads and validates voicebridge.yml, grounded on
// anasdox-workline/internal/config's YAML-struct-plus-Validate shape, with
// env-var overrides bound the way anasdox-workline/cmd/wl's initConfig
// binds WORKLINE_* onto viper.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/openclaw/voicebridge/verr"
)

// Config models voicebridge.yml.
type Config struct {
	Provider string `yaml:"provider"` // twilio | telnyx | plivo | voximplant | mock

	PublicURL string `yaml:"publicUrl"`
	Tunnel    struct {
		Provider string `yaml:"provider"` // "" disables tunneling
	} `yaml:"tunnel"`
	LAN struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"lan"`

	Serve struct {
		Addr string `yaml:"addr"`
		Path string `yaml:"path"`
	} `yaml:"serve"`

	Streaming struct {
		StreamPath string `yaml:"streamPath"`
		Mode       string `yaml:"mode"` // "realtime-conversation" | "tts-relay"
	} `yaml:"streaming"`

	SkipSignatureVerification bool `yaml:"skipSignatureVerification"`

	ControlTimeoutMs    int `yaml:"controlTimeoutMs"`
	MaxConcurrentCalls  int `yaml:"maxConcurrentCalls"`
	RingTimeoutMs       int `yaml:"ringTimeoutMs"`
	SilenceTimeoutMs    int `yaml:"silenceTimeoutMs"`
	MaxDurationMs       int `yaml:"maxDurationMs"`
	TranscriptTimeoutMs int `yaml:"transcriptTimeoutMs"`

	HistoryPath   string `yaml:"historyPath"`
	DefaultRegion string `yaml:"defaultRegion"`

	Realtime struct {
		Endpoint string `yaml:"endpoint"`
		Voice    string `yaml:"voice"`
		Instructions string `yaml:"instructions"`
		// ForceOpening, when non-empty, is a one-time instruction telling
		// the assistant to speak first instead of waiting on the caller.
		ForceOpening string `yaml:"forceOpening"`
	} `yaml:"realtime"`

	TTS struct {
		Backend string `yaml:"backend"` // "elevenlabs"
		VoiceID string `yaml:"voiceId"`
	} `yaml:"tts"`

	Credentials map[string]string `yaml:"credentials"`

	OpenAIAPIKey string `yaml:"-"`
}

// ControlTimeout, RingTimeout, SilenceTimeout, MaxDuration, TranscriptTimeout
// convert the millisecond YAML fields into time.Duration with the spec's
// defaults applied.
func (c *Config) ControlTimeout() time.Duration { return msOr(c.ControlTimeoutMs, 15*time.Second) }
func (c *Config) RingTimeout() time.Duration    { return msOr(c.RingTimeoutMs, 45*time.Second) }
func (c *Config) SilenceTimeout() time.Duration { return msOr(c.SilenceTimeoutMs, 20*time.Second) }
func (c *Config) MaxDuration() time.Duration    { return msOr(c.MaxDurationMs, 20*time.Minute) }
func (c *Config) TranscriptTimeout() time.Duration {
	return msOr(c.TranscriptTimeoutMs, 10*time.Second)
}

func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate enforces the fatal-at-startup taxonomy in spec.md §7:
// ConfigInvalid/CredentialMissing refuse to start.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return verr.New(verr.ConfigInvalid, "provider is required")
	}
	switch c.Provider {
	case "twilio", "telnyx", "plivo", "voximplant", "mock":
	default:
		return verr.New(verr.ConfigInvalid, "unknown provider: "+c.Provider)
	}
	if c.Provider != "mock" {
		if err := c.requireCredentials(c.Provider); err != nil {
			return err
		}
	}
	if c.Serve.Path == "" {
		c.Serve.Path = "/voice/webhook"
	}
	if c.Streaming.StreamPath == "" {
		c.Streaming.StreamPath = "/voice/stream"
	}
	if c.Streaming.Mode == "" {
		c.Streaming.Mode = "realtime-conversation"
	}
	if c.DefaultRegion == "" {
		c.DefaultRegion = "US"
	}
	return nil
}

func (c *Config) requireCredentials(provider string) error {
	var required []string
	switch provider {
	case "twilio":
		required = []string{"accountSid", "authToken"}
	case "telnyx":
		required = []string{"apiKey"}
	case "plivo":
		required = []string{"authId", "authToken"}
	case "voximplant":
		required = []string{"accountId", "applicationId"}
	}
	for _, key := range required {
		if c.Credentials[key] == "" {
			return verr.New(verr.CredentialMissing, provider+" requires credential "+key)
		}
	}
	return nil
}

// Load reads YAML config from path, applies WORKLINE-style env overrides
// via viper.AutomaticEnv(), and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VOICEBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, verr.Wrap(verr.ConfigInvalid, "failed to read config file", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, verr.Wrap(verr.ConfigInvalid, "invalid config yaml", err)
	}

	applyEnvOverrides(&cfg, v)

	cfg.OpenAIAPIKey = firstNonEmpty(os.Getenv("OPENAI_API_KEY"), v.GetString("openai_api_key"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets VOICEBRIDGE_PROVIDER / VOICEBRIDGE_PUBLICURL /
// VOICEBRIDGE_SKIPSIGNATUREVERIFICATION take precedence over the file.
// Credential variables (VOICEBRIDGE_ACCOUNTSID and the like) only fill
// credentials the file leaves empty: a credential set in the file wins.
func applyEnvOverrides(cfg *Config, v *viper.Viper) {
	if s := v.GetString("provider"); s != "" {
		cfg.Provider = s
	}
	if s := v.GetString("publicurl"); s != "" {
		cfg.PublicURL = s
	}
	if v.IsSet("skipsignatureverification") {
		cfg.SkipSignatureVerification = v.GetBool("skipsignatureverification")
	}
	for _, key := range []string{"accountSid", "authToken", "apiKey", "authId", "accountId", "applicationId", "publicKey", "privateKeyPem", "sharedSecret", "connectionId"} {
		if s := v.GetString(strings.ToLower(key)); s != "" {
			if cfg.Credentials == nil {
				cfg.Credentials = make(map[string]string)
			}
			if cfg.Credentials[key] == "" {
				cfg.Credentials[key] = s
			}
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
