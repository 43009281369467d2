// Package mock provides a test double for the tts.Synthesizer interface.
//
// Use Synthesizer in unit tests to feed controlled PCM clips without a live
// TTS backend and to verify which sentences the pipeline asked to synthesise.
package mock

import (
	"context"
	"sync"

	"github.com/lumehara/danmakucast/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
// Zero values cause Synthesize to return an empty Clip at 16 kHz.
type Synthesizer struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Clip is returned from every Synthesize call unless ClipFunc is set.
	Clip tts.Clip

	// ClipFunc, if non-nil, computes the returned Clip from the input text.
	// Takes precedence over Clip.
	ClipFunc func(text string) tts.Clip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// --- Call records (read after test) ---

	// Texts records every text passed to Synthesize in order.
	Texts []string
}

// Synthesize records the call and returns the configured Clip or Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return tts.Clip{}, s.Err
	}
	if s.ClipFunc != nil {
		return s.ClipFunc(text), nil
	}
	clip := s.Clip
	if clip.SampleRate == 0 {
		clip.SampleRate = 16000
	}
	return clip, nil
}

// Calls returns a copy of the recorded synthesis texts.
func (s *Synthesizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Texts))
	copy(out, s.Texts)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = nil
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
