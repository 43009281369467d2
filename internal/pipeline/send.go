// Package pipeline glues TTS output to the broadcast fan-out.
//
// The TTS engine hands over audio frames tagged with a sentence position
// (first, middle, last); the pipeline routes them through the rate
// controller, emits the surrounding control messages, and suppresses the
// one control state the hardware must never see mid-stream.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumehara/danmakucast/internal/audio"
	"github.com/lumehara/danmakucast/internal/observe"
)

// SentenceType marks where a token sits inside one dialogue round.
type SentenceType int

const (
	// First opens a round: it announces the sentence text to devices before
	// any audio.
	First SentenceType = iota
	// Middle carries audio for the body of the reply.
	Middle
	// Last closes the round: after its audio a stop control is enqueued.
	Last
)

// String implements fmt.Stringer.
func (t SentenceType) String() string {
	switch t {
	case First:
		return "first"
	case Middle:
		return "middle"
	case Last:
		return "last"
	default:
		return fmt.Sprintf("SentenceType(%d)", int(t))
	}
}

// SentenceToken is one unit of work flowing from the dialogue orchestrator
// into the TTS engine.
type SentenceToken struct {
	// SentenceID identifies the dialogue round the token belongs to.
	SentenceID string

	// Type is the token's position within the round.
	Type SentenceType

	// Text is the text to synthesise. Empty for pure boundary markers.
	Text string
}

// ControlMessage is the JSON control frame sent to devices alongside audio.
type ControlMessage struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Broadcaster delivers one payload to every connected device.
// Implemented by *device.Registry.
type Broadcaster interface {
	BroadcastAudio(ctx context.Context, frame []byte, exclude string)
	BroadcastMessage(ctx context.Context, payload []byte, exclude string)
}

// Pipeline owns the rate controller and the path from TTS frames to the
// device fan-out. One pipeline exists per dialogue orchestrator.
type Pipeline struct {
	rc      *audio.RateController
	bc      Broadcaster
	logger  *slog.Logger
	metrics *observe.Metrics
}

// New creates a Pipeline that paces frames through rc and delivers them via bc.
func New(rc *audio.RateController, bc Broadcaster, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{rc: rc, bc: bc, logger: logger, metrics: observe.DefaultMetrics()}
}

// SendTTSState broadcasts a bare tts control state (e.g., "start") for the
// given round, immediately and unpaced. States suppressed by the control
// filter are silently dropped.
func (p *Pipeline) SendTTSState(ctx context.Context, sentenceID, state string) {
	p.broadcastControl(ctx, ControlMessage{Type: "tts", State: state, SessionID: sentenceID})
}

// SendAudioMessage routes one token's frames into the rate controller.
//
// First tokens announce the sentence text: if the controller already owns
// this sentence the announcement is enqueued so it keeps order with frames
// already in flight; for a fresh sentence the round's start control and the
// announcement are broadcast immediately, ahead of the pre-buffer. Rounds
// whose reply never produces a First token therefore emit no start at all.
// Last tokens enqueue a stop control after their audio and reset the
// speaking state.
func (p *Pipeline) SendAudioMessage(ctx context.Context, sentenceID string, typ SentenceType, frames [][]byte, text string) {
	switch typ {
	case First:
		msg := ControlMessage{Type: "tts", State: "sentence_start", SessionID: sentenceID, Text: text}
		if p.rc.Epoch() == sentenceID {
			p.rc.AddMessage(func(ctx context.Context) error {
				p.broadcastControl(ctx, msg)
				return nil
			})
		} else {
			p.SendTTSState(ctx, sentenceID, "start")
			p.broadcastControl(ctx, msg)
		}
		p.sendAudio(ctx, sentenceID, frames)

	case Middle:
		p.sendAudio(ctx, sentenceID, frames)

	case Last:
		p.sendAudio(ctx, sentenceID, frames)
		stop := ControlMessage{Type: "tts", State: "stop", SessionID: sentenceID}
		p.rc.AddMessage(func(ctx context.Context) error {
			p.broadcastControl(ctx, stop)
			return nil
		})
		p.clearSpeakStatus(sentenceID)
	}
}

// sendAudio performs the get-or-create of the rate controller for this
// sentence, then feeds frames: the pre-buffer is dispatched immediately so
// devices can fill their jitter buffers, the rest is paced.
func (p *Pipeline) sendAudio(ctx context.Context, sentenceID string, frames [][]byte) {
	p.rc.Ensure(sentenceID, func(ctx context.Context, frame []byte) error {
		p.bc.BroadcastAudio(ctx, frame, "")
		p.metrics.BroadcastFrames.Add(ctx, 1)
		return nil
	})

	for _, frame := range frames {
		if p.rc.PacketCount() < audio.PreBufferCount {
			if err := p.rc.Dispatch(ctx, frame); err != nil {
				p.logger.Error("pre-buffer dispatch failed", "sentence_id", sentenceID, "error", err)
			}
			continue
		}
		p.rc.AddAudio(frame)
	}
}

// WaitDrained blocks until all enqueued work for the current sentence has
// been dispatched, or timeout elapses.
func (p *Pipeline) WaitDrained(ctx context.Context, timeout time.Duration) bool {
	return p.rc.WaitDrained(ctx, timeout)
}

// Epoch returns the sentence ID currently owning the rate controller.
func (p *Pipeline) Epoch() string {
	return p.rc.Epoch()
}

// Close stops the pacer.
func (p *Pipeline) Close() {
	p.rc.Close()
}

// broadcastControl marshals and fans out one control message, applying the
// control filter first.
func (p *Pipeline) broadcastControl(ctx context.Context, msg ControlMessage) {
	if suppressControl(msg) {
		p.logger.Debug("control message suppressed", "type", msg.Type, "state", msg.State)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("marshal control message", "error", err)
		return
	}
	p.bc.BroadcastMessage(ctx, payload, "")
}

// suppressControl reports whether a control message must not reach devices.
// Hardware interprets a tts stop as "return to listening", which would cut
// playback mid-broadcast, so stop never goes out; start and sentence_start
// pass through.
func suppressControl(m ControlMessage) bool {
	return m.Type == "tts" && m.State == "stop"
}

// clearSpeakStatus marks the end of the speaking round.
func (p *Pipeline) clearSpeakStatus(sentenceID string) {
	p.logger.Debug("speak status cleared", "sentence_id", sentenceID)
}
