package audio_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lumehara/danmakucast/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frameSink records dispatched frames in order.
type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *frameSink) send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *frameSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func TestRateController_OrderPreserved(t *testing.T) {
	t.Parallel()
	sink := &frameSink{}
	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()

	rc.Ensure("s1", sink.send)
	for i := byte(0); i < 20; i++ {
		rc.AddAudio([]byte{i})
	}
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("WaitDrained timed out")
	}

	frames := sink.snapshot()
	if len(frames) != 20 {
		t.Fatalf("dispatched %d frames, want 20", len(frames))
	}
	for i, f := range frames {
		if f[0] != byte(i) {
			t.Fatalf("frame %d carries %d, order broken", i, f[0])
		}
	}
}

func TestRateController_MessagesInterleaveInOrder(t *testing.T) {
	t.Parallel()
	sink := &frameSink{}
	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()

	rc.Ensure("s1", sink.send)
	rc.AddAudio([]byte{1})
	rc.AddMessage(func(ctx context.Context) error {
		return sink.send(ctx, []byte{100})
	})
	rc.AddAudio([]byte{2})
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("WaitDrained timed out")
	}

	frames := sink.snapshot()
	if len(frames) != 3 {
		t.Fatalf("dispatched %d items, want 3", len(frames))
	}
	if frames[0][0] != 1 || frames[1][0] != 100 || frames[2][0] != 2 {
		t.Fatalf("dispatch order = %v %v %v, want 1 100 2", frames[0], frames[1], frames[2])
	}
}

func TestRateController_DispatchCountsPackets(t *testing.T) {
	t.Parallel()
	sink := &frameSink{}
	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()

	rc.Ensure("s1", sink.send)
	for i := 0; i < 3; i++ {
		if err := rc.Dispatch(context.Background(), []byte{byte(i)}); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	rc.AddAudio([]byte{3})

	if got := rc.PacketCount(); got != 4 {
		t.Errorf("PacketCount() = %d, want 4", got)
	}
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("WaitDrained timed out")
	}
	if got := len(sink.snapshot()); got != 4 {
		t.Errorf("dispatched %d frames, want 4", got)
	}
}

func TestRateController_EnsureResetsOnNewSentence(t *testing.T) {
	t.Parallel()
	sink1 := &frameSink{}
	sink2 := &frameSink{}
	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()

	rc.Ensure("s1", sink1.send)
	rc.AddAudio([]byte{1})
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("sentence 1 never drained")
	}
	if got := rc.Epoch(); got != "s1" {
		t.Fatalf("Epoch() = %q, want s1", got)
	}

	rc.Ensure("s2", sink2.send)
	if got := rc.Epoch(); got != "s2" {
		t.Fatalf("Epoch() = %q, want s2", got)
	}
	if got := rc.PacketCount(); got != 0 {
		t.Fatalf("PacketCount() = %d after reset, want 0", got)
	}

	rc.AddAudio([]byte{2})
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("sentence 2 never drained")
	}
	if got := len(sink2.snapshot()); got != 1 {
		t.Errorf("new sink received %d frames, want 1", got)
	}
	if got := len(sink1.snapshot()); got != 1 {
		t.Errorf("old sink received %d frames, want 1", got)
	}
}

func TestRateController_EnsureSameSentenceReuses(t *testing.T) {
	t.Parallel()
	sink := &frameSink{}
	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()

	rc.Ensure("s1", sink.send)
	rc.AddAudio([]byte{1})
	rc.Ensure("s1", sink.send)
	rc.AddAudio([]byte{2})

	if got := rc.PacketCount(); got != 2 {
		t.Errorf("PacketCount() = %d, want 2 (no reset on same sentence)", got)
	}
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("WaitDrained timed out")
	}
	if got := len(sink.snapshot()); got != 2 {
		t.Errorf("dispatched %d frames, want 2", got)
	}
}

func TestRateController_SendErrorDoesNotStopStream(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var delivered []byte
	calls := 0
	send := func(ctx context.Context, frame []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return errors.New("socket gone")
		}
		delivered = append(delivered, frame[0])
		return nil
	}

	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()
	rc.Ensure("s1", send)
	rc.AddAudio([]byte{1})
	rc.AddAudio([]byte{2})
	rc.AddAudio([]byte{3})
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("WaitDrained timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 2 || delivered[0] != 1 || delivered[1] != 3 {
		t.Fatalf("delivered = %v, want [1 3] (frame 2 dropped, stream continues)", delivered)
	}
}

func TestRateController_WaitDrainedTimeout(t *testing.T) {
	t.Parallel()
	blocked := make(chan struct{})
	send := func(ctx context.Context, frame []byte) error {
		<-blocked
		return nil
	}

	rc := audio.NewRateController(testLogger(), audio.WithFrameDuration(time.Millisecond))
	defer rc.Close()
	defer close(blocked)

	rc.Ensure("s1", send)
	rc.AddAudio([]byte{1})

	if rc.WaitDrained(context.Background(), 50*time.Millisecond) {
		t.Fatal("WaitDrained returned true while a frame is stuck in flight")
	}
}

func TestRateController_FixedDelayMode(t *testing.T) {
	t.Parallel()
	sink := &frameSink{}
	rc := audio.NewRateController(testLogger(),
		audio.WithFrameDuration(time.Hour), // would deadlock the test if used
		audio.WithFixedDelay(time.Millisecond))
	defer rc.Close()

	rc.Ensure("s1", sink.send)
	for i := byte(0); i < 5; i++ {
		rc.AddAudio([]byte{i})
	}
	if !rc.WaitDrained(context.Background(), 2*time.Second) {
		t.Fatal("fixed-delay pacer never drained")
	}
	if got := len(sink.snapshot()); got != 5 {
		t.Errorf("dispatched %d frames, want 5", got)
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate unchanged", func(t *testing.T) {
		t.Parallel()
		in := []byte{0x01, 0x00, 0x02, 0x00}
		out := audio.ResampleMono16(in, 16000, 16000)
		if &out[0] != &in[0] {
			t.Error("same-rate input should be returned unchanged")
		}
	})

	t.Run("halves sample count downsampling 2:1", func(t *testing.T) {
		t.Parallel()
		in := make([]byte, 2*480) // 480 samples at 48 kHz
		out := audio.ResampleMono16(in, 48000, 24000)
		if len(out) != 2*240 {
			t.Errorf("len(out) = %d bytes, want %d", len(out), 2*240)
		}
	})

	t.Run("24k to 16k", func(t *testing.T) {
		t.Parallel()
		in := make([]byte, 2*2400) // 100 ms at 24 kHz
		out := audio.ResampleMono16(in, 24000, 16000)
		if len(out) != 2*1600 {
			t.Errorf("len(out) = %d bytes, want %d (100 ms at 16 kHz)", len(out), 2*1600)
		}
	})
}
