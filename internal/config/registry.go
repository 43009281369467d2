package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lumehara/danmakucast/pkg/provider/llm"
	"github.com/lumehara/danmakucast/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create* methods when no
// factory has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("provider not registered")

// LLMFactory constructs an LLM provider from its config entry.
type LLMFactory func(entry ProviderEntry) (llm.Provider, error)

// TTSFactory constructs a TTS synthesizer from its config entry.
type TTSFactory func(entry ProviderEntry) (tts.Synthesizer, error)

// Registry maps provider names to factory functions. The main package
// registers the built-in factories at startup; embedding applications may
// register additional ones before building providers.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	llms map[string]LLMFactory
	ttss map[string]TTSFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llms: make(map[string]LLMFactory),
		ttss: make(map[string]TTSFactory),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any previous
// registration.
func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llms[name] = f
}

// RegisterTTS registers a TTS factory under name, replacing any previous
// registration.
func (r *Registry) RegisterTTS(name string, f TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttss[name] = f
}

// CreateLLM instantiates the LLM provider named by entry.Name.
// Returns [ErrProviderNotRegistered] if no factory is registered.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, ok := r.llms[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}

// CreateTTS instantiates the TTS synthesizer named by entry.Name.
// Returns [ErrProviderNotRegistered] if no factory is registered.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	f, ok := r.ttss[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tts %q: %w", entry.Name, ErrProviderNotRegistered)
	}
	return f(entry)
}
