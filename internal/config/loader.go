package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "piper"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Danmaku.WSPort < 1 || cfg.Danmaku.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("danmaku.ws_port %d is out of range [1, 65535]", cfg.Danmaku.WSPort))
	}
	if cfg.Danmaku.HTTPPort < 1 || cfg.Danmaku.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("danmaku.http_port %d is out of range [1, 65535]", cfg.Danmaku.HTTPPort))
	}
	if cfg.Danmaku.WSPort == cfg.Danmaku.HTTPPort {
		errs = append(errs, fmt.Errorf("danmaku.ws_port and danmaku.http_port are both %d; they must differ", cfg.Danmaku.WSPort))
	}
	if cfg.Danmaku.UseProxy && !cfg.Danmaku.UseMock && cfg.Danmaku.ProxyWSURL == "" {
		errs = append(errs, errors.New("danmaku.use_proxy is set but danmaku.proxy_ws_url is empty"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// A real upstream without providers can only log events; warn so the
	// operator notices before wondering why no audio comes out.
	if !cfg.Danmaku.UseMock {
		if cfg.Providers.LLM.Name == "" {
			slog.Warn("no LLM provider configured; chat events will not produce replies")
		}
		if cfg.Providers.TTS.Name == "" {
			slog.Warn("no TTS provider configured; replies will not produce audio")
		}
	}

	return errors.Join(errs...)
}

// validateProviderName warns when name is non-empty and not in the known
// list for kind. Unknown names are not an error: out-of-tree providers may
// be registered by embedding applications.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	for _, known := range ValidProviderNames[kind] {
		if name == known {
			return
		}
	}
	slog.Warn("unrecognised provider name", "kind", kind, "name", name, "known", ValidProviderNames[kind])
}
