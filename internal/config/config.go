// Package config provides the configuration schema, loader, and provider
// registry for the danmakucast server.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for danmakucast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Danmaku   DanmakuConfig   `yaml:"danmaku"`
	Providers ProvidersConfig `yaml:"providers"`

	// Prompt is the system prompt seeded as the first dialogue turn.
	Prompt string `yaml:"prompt"`

	// TTSAudioSendDelay, in milliseconds, switches the audio pacer into
	// fixed-delay mode when positive: instead of pacing frames at the frame
	// duration, the sender sleeps this long between frames. Zero or negative
	// selects the default paced mode.
	TTSAudioSendDelay int `yaml:"tts_audio_send_delay"`
}

// ServerConfig holds logging and locale settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TimezoneOffset is the server timezone offset in hours, exposed to
	// devices through the OTA provisioning endpoint.
	TimezoneOffset int `yaml:"timezone_offset"`
}

// DanmakuConfig holds the network bindings and upstream selection for the
// danmaku pipeline.
type DanmakuConfig struct {
	// WSHost/WSPort bind the device WebSocket server.
	WSHost string `yaml:"ws_host"`
	WSPort int    `yaml:"ws_port"`

	// HTTPHost/HTTPPort bind the OTA provisioning HTTP server.
	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`

	// UseMock selects the internal canned upstream instead of a real feed.
	UseMock bool `yaml:"use_mock"`

	// UseProxy selects the proxy upstream adapter (a DouyinBarrageGrab-style
	// websocket push endpoint). Ignored when UseMock is set.
	UseProxy bool `yaml:"use_proxy"`

	// ProxyWSURL is the upstream websocket URL used when UseProxy is set.
	ProxyWSURL string `yaml:"proxy_ws_url"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry configures a single named provider.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "openai", "ollama"
	// for LLM; "openai", "piper" for TTS).
	Name string `yaml:"name"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// Voice is the TTS voice identifier. Ignored by LLM providers.
	Voice string `yaml:"voice"`

	// APIKey authenticates against hosted providers. Local providers
	// (ollama, piper) use BaseURL instead.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// Options holds provider-specific extras.
	Options map[string]any `yaml:"options"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultWSPort     = 8001
	DefaultHTTPPort   = 8003
	DefaultProxyWSURL = "ws://127.0.0.1:8888"
	DefaultPrompt     = "你是一个友好的AI助手"
)

// ApplyDefaults fills in zero-value fields with their documented defaults.
// Called by the loader after decoding.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.TimezoneOffset == 0 {
		cfg.Server.TimezoneOffset = 8
	}
	if cfg.Danmaku.WSHost == "" {
		cfg.Danmaku.WSHost = "0.0.0.0"
	}
	if cfg.Danmaku.WSPort == 0 {
		cfg.Danmaku.WSPort = DefaultWSPort
	}
	if cfg.Danmaku.HTTPHost == "" {
		cfg.Danmaku.HTTPHost = "0.0.0.0"
	}
	if cfg.Danmaku.HTTPPort == 0 {
		cfg.Danmaku.HTTPPort = DefaultHTTPPort
	}
	if cfg.Danmaku.ProxyWSURL == "" {
		cfg.Danmaku.ProxyWSURL = DefaultProxyWSURL
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
}
