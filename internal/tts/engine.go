// Package tts drives speech synthesis for one dialogue round.
//
// The engine consumes typed sentence tokens from the orchestrator,
// accumulates streamed text into complete sentences, synthesises each
// sentence through the configured provider, resamples the PCM to the device
// rate, and emits fixed-duration Opus frames into the send pipeline.
package tts

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lumehara/danmakucast/internal/audio"
	"github.com/lumehara/danmakucast/internal/observe"
	"github.com/lumehara/danmakucast/internal/pipeline"
	ttsprov "github.com/lumehara/danmakucast/pkg/provider/tts"
)

// Device playback format: 16 kHz mono, 60 ms frames.
const (
	DeviceSampleRate = 16000
	FrameDuration    = 60 * time.Millisecond
)

// frameSamples is the PCM sample count of one device frame.
const frameSamples = DeviceSampleRate * int(FrameDuration/time.Millisecond) / 1000

// Engine converts a round's text stream into paced audio. It is driven
// synchronously from the orchestrator's serial loop: every token is fully
// processed (synthesised, framed, and handed to the pipeline) before Process
// returns, so the orchestrator can safely wait on the drain signal after the
// last token.
type Engine struct {
	synth   ttsprov.Synthesizer
	enc     FrameEncoder
	pipe    *pipeline.Pipeline
	logger  *slog.Logger
	metrics *observe.Metrics

	// per-round state
	sentenceID string
	buf        strings.Builder
	emitted    int
}

// NewEngine creates an Engine. enc may be nil in deployments without audio
// output; tokens are then consumed but produce no frames.
func NewEngine(synth ttsprov.Synthesizer, enc FrameEncoder, pipe *pipeline.Pipeline, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{synth: synth, enc: enc, pipe: pipe, logger: logger, metrics: observe.DefaultMetrics()}
}

// Process handles one sentence token.
//
// A First token opens the round and resets the sentence accumulator. Middle
// tokens append text; every complete sentence in the buffer is synthesised
// and shipped as soon as its terminator arrives. A Last token flushes the
// remainder and emits the closing boundary into the pipeline.
func (e *Engine) Process(ctx context.Context, tok pipeline.SentenceToken) error {
	switch tok.Type {
	case pipeline.First:
		e.sentenceID = tok.SentenceID
		e.buf.Reset()
		e.emitted = 0
		if tok.Text != "" {
			e.buf.WriteString(tok.Text)
			e.flushComplete(ctx)
		}

	case pipeline.Middle:
		e.buf.WriteString(tok.Text)
		e.flushComplete(ctx)

	case pipeline.Last:
		e.buf.WriteString(tok.Text)
		if remainder := strings.TrimSpace(e.buf.String()); remainder != "" {
			e.emitSentence(ctx, remainder)
		}
		e.buf.Reset()
		e.pipe.SendAudioMessage(ctx, e.sentenceID, pipeline.Last, nil, "")
	}
	return ctx.Err()
}

// flushComplete synthesises and ships every complete sentence currently in
// the buffer, leaving any trailing partial sentence for the next token.
func (e *Engine) flushComplete(ctx context.Context) {
	for {
		s := e.buf.String()
		idx := sentenceBoundary(s)
		if idx < 0 {
			return
		}
		sentence := strings.TrimSpace(s[:idx])
		e.buf.Reset()
		e.buf.WriteString(s[idx:])
		if sentence == "" {
			continue
		}
		e.emitSentence(ctx, sentence)
	}
}

// emitSentence runs one sentence through synthesis and framing and hands the
// result to the pipeline. The first sentence of a round opens the stream with
// its announcement text. Synthesis failures drop the sentence and continue;
// one broken sentence must not silence the round.
func (e *Engine) emitSentence(ctx context.Context, sentence string) {
	frames, err := e.synthesizeFrames(ctx, sentence)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Error("sentence synthesis failed, skipping",
			"sentence_id", e.sentenceID, "text", sentence, "error", err)
		frames = nil
	}

	typ := pipeline.Middle
	if e.emitted == 0 {
		typ = pipeline.First
	}
	e.emitted++
	e.pipe.SendAudioMessage(ctx, e.sentenceID, typ, frames, sentence)
}

// synthesizeFrames synthesises one sentence and slices the PCM into encoded
// device frames. The trailing partial frame is zero-padded to full length.
func (e *Engine) synthesizeFrames(ctx context.Context, sentence string) ([][]byte, error) {
	if e.synth == nil || e.enc == nil {
		return nil, nil
	}

	start := time.Now()
	clip, err := e.synth.Synthesize(ctx, sentence)
	if err != nil {
		e.metrics.RecordProviderError(ctx, "tts")
		return nil, err
	}
	e.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	pcm := audio.ResampleMono16(clip.PCM, clip.SampleRate, DeviceSampleRate)
	samples := audio.BytesToInt16(pcm)

	var frames [][]byte
	for off := 0; off < len(samples); off += frameSamples {
		end := off + frameSamples
		frame := make([]int16, frameSamples)
		if end > len(samples) {
			copy(frame, samples[off:])
		} else {
			copy(frame, samples[off:end])
		}
		encoded, err := e.enc.Encode(frame)
		if err != nil {
			return frames, err
		}
		frames = append(frames, encoded)
	}
	return frames, nil
}

// sentenceBoundary returns the byte index just past the first sentence
// terminator in s, or -1 when s holds no complete sentence. Both CJK and
// ASCII terminators are recognised.
func sentenceBoundary(s string) int {
	for i, r := range s {
		switch r {
		case '。', '！', '？', '；', '…', '\n', '.', '!', '?', ';':
			return i + len(string(r))
		}
	}
	return -1
}
