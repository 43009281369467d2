// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// Synthesis is sentence-batched rather than token-streamed: the pipeline hands
// over one complete sentence at a time and receives a self-contained PCM clip
// back. This matches how batch-mode TTS servers (OpenAI speech, Piper) work
// and keeps the per-sentence audio framing in one place downstream.
package tts

import "context"

// Clip is a synthesised audio fragment: raw 16-bit little-endian mono PCM at
// the stated sample rate.
type Clip struct {
	// PCM holds little-endian int16 mono samples.
	PCM []byte

	// SampleRate is the number of samples per second (e.g., 24000, 16000).
	SampleRate int
}

// Duration returns the clip length in seconds.
func (c Clip) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.PCM)/2) / float64(c.SampleRate)
}

// Synthesizer converts a sentence of text into a PCM clip.
//
// Implementations must be safe for concurrent use. Synthesize must respect
// ctx cancellation and return ctx.Err() when interrupted.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Clip, error)
}
