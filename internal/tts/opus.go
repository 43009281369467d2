package tts

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameBytes bounds the encoded size of one Opus packet. 60 ms of
// 16 kHz mono speech compresses far below this.
const maxOpusFrameBytes = 4000

// FrameEncoder turns one frame of PCM samples into an opaque wire packet.
// Declared as an interface so tests can run without the cgo Opus codec.
type FrameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// OpusEncoder implements FrameEncoder with libopus via layeh.com/gopus.
type OpusEncoder struct {
	enc *gopus.Encoder
}

// NewOpusEncoder creates an Opus encoder for the given sample rate and
// channel count.
func NewOpusEncoder(sampleRate, channels int) (*OpusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("tts: create opus encoder: %w", err)
	}
	return &OpusEncoder{enc: enc}, nil
}

// Encode encodes one frame of mono PCM samples into an Opus packet.
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	data, err := e.enc.Encode(pcm, len(pcm), maxOpusFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("tts: opus encode: %w", err)
	}
	return data, nil
}

var _ FrameEncoder = (*OpusEncoder)(nil)
