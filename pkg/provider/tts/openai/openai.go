// Package openai provides a TTS synthesizer backed by the OpenAI speech API.
//
// The API operates in batch mode: one HTTP call per sentence, returning raw
// PCM. OpenAI always emits 24 kHz 16-bit mono PCM in this mode; downstream
// consumers resample to their target rate as needed.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lumehara/danmakucast/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = "tts-1"

// DefaultVoice is used when no voice is configured.
const DefaultVoice = "alloy"

// pcmSampleRate is the fixed output rate of the OpenAI speech API in PCM mode.
const pcmSampleRate = 24000

// Ensure Synthesizer implements the tts.Synthesizer interface.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer implements tts.Synthesizer using the OpenAI speech API.
type Synthesizer struct {
	client oai.Client
	model  string
	voice  string
}

// config holds optional configuration for the synthesizer.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Synthesizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible speech servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI speech Synthesizer.
// If model is empty, DefaultModel (tts-1) is used. If voice is empty,
// DefaultVoice (alloy) is used.
func New(apiKey, model, voice string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if voice == "" {
		voice = DefaultVoice
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Synthesizer{client: client, model: model, voice: voice}, nil
}

// Synthesize implements tts.Synthesizer. It performs one speech API call and
// returns the raw 24 kHz PCM response.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Clip, error) {
	resp, err := s.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(s.model),
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai tts: speech request: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai tts: read speech response: %w", err)
	}

	return tts.Clip{PCM: pcm, SampleRate: pcmSampleRate}, nil
}
