package tts_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lumehara/danmakucast/internal/audio"
	"github.com/lumehara/danmakucast/internal/pipeline"
	"github.com/lumehara/danmakucast/internal/tts"
	ttsprov "github.com/lumehara/danmakucast/pkg/provider/tts"
	ttsmock "github.com/lumehara/danmakucast/pkg/provider/tts/mock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// passthroughEncoder tags each PCM frame with a sequence byte so tests can
// count frames without the cgo Opus codec.
type passthroughEncoder struct {
	mu sync.Mutex
	n  int
}

func (e *passthroughEncoder) Encode(pcm []int16) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.n++
	return []byte{byte(e.n), byte(len(pcm) >> 8)}, nil
}

// recordingSink captures everything the pipeline fans out.
type recordingSink struct {
	mu     sync.Mutex
	audio  [][]byte
	texts  [][]byte
}

func (s *recordingSink) BroadcastAudio(ctx context.Context, frame []byte, exclude string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.audio = append(s.audio, buf)
}

func (s *recordingSink) BroadcastMessage(ctx context.Context, payload []byte, exclude string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.texts = append(s.texts, buf)
}

func (s *recordingSink) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

func (s *recordingSink) controls(t *testing.T) []pipeline.ControlMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pipeline.ControlMessage, 0, len(s.texts))
	for _, payload := range s.texts {
		var m pipeline.ControlMessage
		if err := json.Unmarshal(payload, &m); err != nil {
			t.Fatalf("bad control payload %q: %v", payload, err)
		}
		out = append(out, m)
	}
	return out
}

func newTestEngine(synth ttsprov.Synthesizer) (*tts.Engine, *pipeline.Pipeline, *recordingSink) {
	sink := &recordingSink{}
	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	pipe := pipeline.New(rc, sink, testLogger())
	eng := tts.NewEngine(synth, &passthroughEncoder{}, pipe, testLogger())
	return eng, pipe, sink
}

// pcmClip returns a clip of n samples of silence at the given rate.
func pcmClip(n, rate int) ttsprov.Clip {
	return ttsprov.Clip{PCM: make([]byte, n*2), SampleRate: rate}
}

func TestEngine_SplitsStreamedTextIntoSentences(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Synthesizer{Clip: pcmClip(960, 16000)}
	eng, pipe, _ := newTestEngine(synth)
	defer pipe.Close()

	ctx := context.Background()
	toks := []pipeline.SentenceToken{
		{SentenceID: "s1", Type: pipeline.First},
		{SentenceID: "s1", Type: pipeline.Middle, Text: "今天天气"},
		{SentenceID: "s1", Type: pipeline.Middle, Text: "很好。我们"},
		{SentenceID: "s1", Type: pipeline.Middle, Text: "出去玩！"},
		{SentenceID: "s1", Type: pipeline.Last},
	}
	for _, tok := range toks {
		if err := eng.Process(ctx, tok); err != nil {
			t.Fatalf("Process(%v): %v", tok.Type, err)
		}
	}
	if !pipe.WaitDrained(ctx, 2*time.Second) {
		t.Fatal("pipeline never drained")
	}

	want := []string{"今天天气很好。", "出去玩！"}
	got := synth.Calls()
	if len(got) != len(want) {
		t.Fatalf("synthesised %d sentences %v, want %v", len(got), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEngine_FirstSentenceAnnounced(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Synthesizer{Clip: pcmClip(960, 16000)}
	eng, pipe, sink := newTestEngine(synth)
	defer pipe.Close()

	ctx := context.Background()
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.First})
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.Middle, Text: "你好呀。再见。"})
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.Last})
	if !pipe.WaitDrained(ctx, 2*time.Second) {
		t.Fatal("pipeline never drained")
	}

	var starts []pipeline.ControlMessage
	for _, m := range sink.controls(t) {
		if m.State == "sentence_start" {
			starts = append(starts, m)
		}
	}
	if len(starts) != 1 {
		t.Fatalf("got %d sentence_start controls, want exactly 1", len(starts))
	}
	if starts[0].Text != "你好呀。" {
		t.Errorf("sentence_start text = %q, want first sentence", starts[0].Text)
	}
}

func TestEngine_FrameShape(t *testing.T) {
	t.Parallel()
	// 24 kHz clip of 150 ms: resamples to 2400 samples at 16 kHz, which is
	// 2.5 device frames, so 3 encoded frames with the last zero-padded.
	synth := &ttsmock.Synthesizer{Clip: pcmClip(3600, 24000)}
	eng, pipe, sink := newTestEngine(synth)
	defer pipe.Close()

	ctx := context.Background()
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.First})
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.Middle, Text: "一句。"})
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.Last})
	if !pipe.WaitDrained(ctx, 2*time.Second) {
		t.Fatal("pipeline never drained")
	}

	if got := sink.audioCount(); got != 3 {
		t.Fatalf("broadcast %d frames, want 3", got)
	}
}

func TestEngine_SynthesisFailureSkipsSentence(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Synthesizer{Err: errors.New("server down")}
	eng, pipe, sink := newTestEngine(synth)
	defer pipe.Close()

	ctx := context.Background()
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.First})
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.Middle, Text: "坏句子。"})
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.Last})
	if !pipe.WaitDrained(ctx, 2*time.Second) {
		t.Fatal("pipeline never drained")
	}

	if got := sink.audioCount(); got != 0 {
		t.Errorf("broadcast %d frames, want 0 after synthesis failure", got)
	}
	// The announcement still goes out so devices see the text.
	found := false
	for _, m := range sink.controls(t) {
		if m.State == "sentence_start" {
			found = true
		}
	}
	if !found {
		t.Error("sentence_start control missing")
	}
}

func TestEngine_EmptyRoundProducesNoAudio(t *testing.T) {
	t.Parallel()
	synth := &ttsmock.Synthesizer{Clip: pcmClip(960, 16000)}
	eng, pipe, sink := newTestEngine(synth)
	defer pipe.Close()

	ctx := context.Background()
	eng.Process(ctx, pipeline.SentenceToken{SentenceID: "s1", Type: pipeline.First})
	if !pipe.WaitDrained(ctx, 2*time.Second) {
		t.Fatal("drained signal never set for an empty round")
	}

	if got := sink.audioCount(); got != 0 {
		t.Errorf("broadcast %d frames, want 0", got)
	}
	if calls := synth.Calls(); len(calls) != 0 {
		t.Errorf("synthesiser called %d times, want 0", len(calls))
	}
}
