// Package piper provides a TTS synthesizer backed by a locally-running Piper
// HTTP server (https://github.com/rhasspy/piper run with --http).
//
// The server operates in batch mode: one GET /?text=... call per sentence,
// returning a WAV file. The synthesizer strips the RIFF container and returns
// the raw PCM together with the sample rate declared in the fmt chunk, so the
// caller never needs to know the model's native rate in advance.
//
// Typical usage:
//
//	s, err := piper.New("http://localhost:5000", piper.WithTimeout(15*time.Second))
//	clip, err := s.Synthesize(ctx, "你好，世界。")
package piper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lumehara/danmakucast/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring a Piper Synthesizer.
type Option func(*Synthesizer)

// WithTimeout sets the per-request HTTP timeout for calls to the Piper server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.httpClient.Timeout = d
	}
}

// WithSpeaker sets the speaker ID query parameter for multi-speaker models.
func WithSpeaker(id string) Option {
	return func(s *Synthesizer) {
		s.speaker = id
	}
}

// Synthesizer implements tts.Synthesizer backed by a Piper HTTP server.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Synthesizer struct {
	serverURL  string
	speaker    string
	httpClient *http.Client
}

// New creates a new Piper Synthesizer that targets the server at serverURL
// (e.g., "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL: strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize implements tts.Synthesizer. It performs one GET request against
// the Piper server and returns the WAV payload stripped to raw PCM.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	params := url.Values{}
	params.Set("text", text)
	if s.speaker != "" {
		params.Set("speaker_id", s.speaker)
	}

	reqURL := s.serverURL + "/?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("piper: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("piper: GET /: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Clip{}, fmt.Errorf("piper: GET / returned status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("piper: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return tts.Clip{}, err
	}
	if info.Channels != 1 {
		return tts.Clip{}, fmt.Errorf("piper: expected mono PCM, got %d channels", info.Channels)
	}

	return tts.Clip{PCM: wav[info.DataOffset:], SampleRate: info.SampleRate}, nil
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int // byte offset of the first PCM sample
	SampleRate int // samples per second
	Channels   int // 1 = mono, 2 = stereo
}

// parseWAV scans the RIFF/WAVE container in wav and returns the data offset
// and audio format from the "fmt " sub-chunk. This is more robust than
// hardcoding a fixed 44-byte offset because the fmt chunk size may vary.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("piper: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("piper: WAV response missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("piper: WAV response missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	// Walk RIFF chunks starting immediately after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			info.DataOffset = offset + 8
			if !foundFmt {
				// fmt chunk should appear before data; fall back to the common
				// Piper model rate if it did not.
				info.SampleRate = 22050
				info.Channels = 1
			}
			return info, nil
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd size).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("piper: WAV response missing data chunk")
}
