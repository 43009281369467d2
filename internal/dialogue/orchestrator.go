package dialogue

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumehara/danmakucast/internal/observe"
	"github.com/lumehara/danmakucast/internal/pipeline"
	"github.com/lumehara/danmakucast/internal/tts"
	"github.com/lumehara/danmakucast/internal/upstream"
	"github.com/lumehara/danmakucast/pkg/provider/llm"
	"github.com/lumehara/danmakucast/pkg/text"
)

const (
	// defaultPollTimeout is how long one round waits for an ingress event
	// before looping.
	defaultPollTimeout = 1 * time.Second

	// defaultDrainTimeout bounds the wait for a sentence's audio to finish.
	// On expiry the round is abandoned rather than deadlocking the loop.
	defaultDrainTimeout = 60 * time.Second

	// anonymousUser is the fallback for events without a nickname.
	anonymousUser = "观众"
)

// Orchestrator is the serial dialogue loop. One instance owns the ingress
// queue, the rolling history, the TTS engine, and (through the pipeline) the
// rate controller. Rounds never overlap: a round finishes its drain wait
// before the next event is picked up, which is what keeps the audio of
// successive replies from interleaving on the devices.
type Orchestrator struct {
	queue    *Queue
	dialogue *Dialogue
	provider llm.Provider
	engine   *tts.Engine
	pipe     *pipeline.Pipeline
	metrics  *observe.Metrics
	logger   *slog.Logger

	pollTimeout  time.Duration
	drainTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollTimeout overrides the ingress poll timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollTimeout = d
		}
	}
}

// WithDrainTimeout overrides the audio drain timeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// NewOrchestrator wires the dialogue loop. metrics may be nil, in which case
// the process-wide default instruments are used.
func NewOrchestrator(queue *Queue, dlg *Dialogue, provider llm.Provider, engine *tts.Engine, pipe *pipeline.Pipeline, metrics *observe.Metrics, logger *slog.Logger, opts ...Option) *Orchestrator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		queue:        queue,
		dialogue:     dlg,
		provider:     provider,
		engine:       engine,
		pipe:         pipe,
		metrics:      metrics,
		logger:       logger,
		pollTimeout:  defaultPollTimeout,
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// HandleEvent is the upstream handler. Chat events enter the ingress queue;
// everything else is counted and dropped here.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev upstream.Event) {
	o.metrics.RecordUpstreamEvent(ctx, ev.Kind.String())
	if ev.Kind != upstream.KindChat {
		return
	}
	o.queue.Push(ev)
}

// Run executes rounds until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("dialogue orchestrator started")
	for ctx.Err() == nil {
		o.Round(ctx)
	}
	return ctx.Err()
}

// Round performs one iteration of the loop: coalesce the ingress queue,
// guard, reply, speak, and wait for the audio to drain. Exported so tests
// can drive the loop deterministically.
func (o *Orchestrator) Round(ctx context.Context) {
	ev, ok := o.queue.DrainLatest(ctx, o.pollTimeout)
	if !ok {
		return
	}

	if text.IsPureEmojiOrEmpty(ev.Content) {
		o.logger.Debug("dropping empty or pure-emoji chat", "user", ev.User.Nickname, "raw", ev.Content)
		return
	}

	sentenceID := uuid.NewString()
	username := ev.User.Nickname
	if username == "" {
		username = anonymousUser
	}

	ctx, span := observe.StartSpan(ctx, "dialogue.round",
		trace.WithAttributes(
			attribute.String("sentence_id", sentenceID),
			attribute.String("user", username),
		),
	)
	defer span.End()
	started := time.Now()
	logger := observe.Logger(ctx).With("sentence_id", sentenceID, "user", username)

	logger.Info("starting dialogue round", "content", ev.Content)

	o.engine.Process(ctx, pipeline.SentenceToken{SentenceID: sentenceID, Type: pipeline.First})

	// The turn keeps the raw chat text; emoji are stripped only on the
	// audio path.
	o.dialogue.Put("user", username+"说: "+ev.Content)

	status := o.speak(ctx, sentenceID, logger)

	if !o.pipe.WaitDrained(ctx, o.drainTimeout) && ctx.Err() == nil {
		logger.Error("timed out waiting for audio to drain", "timeout", o.drainTimeout)
		status = "drain_timeout"
	}

	o.metrics.RecordDialogueRound(ctx, status)
	o.metrics.RoundDuration.Record(ctx, time.Since(started).Seconds())
	logger.Info("dialogue round finished", "status", status, "took", time.Since(started).Round(time.Millisecond))
}

// speak streams the LLM reply through the TTS engine. The returned status
// labels the round for metrics. The assistant turn always records the
// original reply text, including any emoji the audio path stripped.
func (o *Orchestrator) speak(ctx context.Context, sentenceID string, logger *slog.Logger) string {
	llmStart := time.Now()
	chunks, err := o.provider.StreamCompletion(ctx, llm.CompletionRequest{
		SystemPrompt: o.dialogue.SystemPrompt(),
		Messages:     o.dialogue.Messages(),
	})
	if err != nil {
		logger.Error("llm stream failed to start", "error", err)
		o.metrics.RecordProviderError(ctx, "llm")
		return "llm_error"
	}

	status := "ok"
	var reply string
	spoke := false
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			logger.Error("llm stream aborted", "error", chunk.Text)
			o.metrics.RecordProviderError(ctx, "llm")
			status = "llm_error"
			break
		}
		if chunk.Text == "" {
			continue
		}
		reply += chunk.Text
		if spoken := text.RemoveEmojis(chunk.Text); spoken != "" {
			if err := o.engine.Process(ctx, pipeline.SentenceToken{
				SentenceID: sentenceID, Type: pipeline.Middle, Text: spoken,
			}); err != nil {
				return "cancelled"
			}
			spoke = true
		}
	}
	o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())

	if reply != "" {
		o.dialogue.Put("assistant", reply)
		logger.Debug("assistant reply recorded", "reply", reply)
	}

	// A reply that stripped to nothing never opened the audio stream, so
	// there is no stream to close.
	if spoke {
		o.engine.Process(ctx, pipeline.SentenceToken{SentenceID: sentenceID, Type: pipeline.Last})
	}
	return status
}
