// Package audio contains the paced audio sender and PCM helpers.
//
// The RateController is the timing core of the pipeline: it takes audio
// frames and interleaved control messages for one sentence and hands them to
// a send callback at real-time rate, so a fleet of playback devices receives
// audio no faster than it can be played.
package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultFrameDuration is the pacing interval between audio frames.
const DefaultFrameDuration = 60 * time.Millisecond

// PreBufferCount is the number of leading frames per sentence that the send
// pipeline dispatches immediately, letting devices build a playback buffer
// before pacing kicks in.
const PreBufferCount = 5

// SendFunc delivers one audio frame to the transport.
type SendFunc func(ctx context.Context, frame []byte) error

// MessageFunc delivers one control message to the transport. Control entries
// carry their own send closure so the pipeline can bind per-message payloads.
type MessageFunc func(ctx context.Context) error

// workItem is either an audio frame (paced) or a control message (unpaced).
type workItem struct {
	frame []byte
	msg   MessageFunc
}

// event is a resettable level-triggered signal. Waiters grab the current
// channel and block on it; Set closes the channel, Clear installs a fresh
// one. A waiter that wakes must re-check state if it needs edge semantics;
// the orchestrator instead enqueues all work before waiting, so a plain
// level wait is sufficient.
type event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

func (e *event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

func (e *event) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

func (e *event) Wait() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

func (e *event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// RateController paces audio frames for one sentence at a time.
//
// A single producer enqueues work with AddAudio and AddMessage; a background
// pacer goroutine pops items in order and hands them to the send callback
// bound by Ensure. Audio frames are spaced at the frame duration (or a fixed
// configured delay); control messages are dispatched without consuming a
// pacing slot but keep strict ordering with adjacent audio.
//
// The controller is owned by one dialogue orchestrator; Ensure with a new
// sentence ID resets it (cancels the pacer, discards the queue) and rebinds
// the send callback.
type RateController struct {
	mu          sync.Mutex
	epoch       string
	packetCount int
	queue       []workItem
	sendFn      SendFunc

	wake      chan struct{}
	drained   *event
	cancel    context.CancelFunc
	pacerDone chan struct{}

	frameDuration time.Duration
	fixedDelay    time.Duration
	logger        *slog.Logger
}

// RateControllerOption configures a RateController.
type RateControllerOption func(*RateController)

// WithFrameDuration overrides the default 60 ms pacing interval.
func WithFrameDuration(d time.Duration) RateControllerOption {
	return func(c *RateController) {
		if d > 0 {
			c.frameDuration = d
		}
	}
}

// WithFixedDelay switches the pacer into fixed-delay mode: it sleeps d
// between frames instead of pacing at the frame duration. Zero disables.
func WithFixedDelay(d time.Duration) RateControllerOption {
	return func(c *RateController) {
		c.fixedDelay = d
	}
}

// NewRateController creates an idle controller. The pacer starts on the
// first Ensure call.
func NewRateController(logger *slog.Logger, opts ...RateControllerOption) *RateController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &RateController{
		wake:          make(chan struct{}, 1),
		drained:       newEvent(),
		frameDuration: DefaultFrameDuration,
		logger:        logger,
	}
	// An idle controller has nothing pending or in flight.
	c.drained.Set()
	for _, o := range opts {
		o(c)
	}
	return c
}

// Epoch returns the sentence ID currently owning the controller.
func (c *RateController) Epoch() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// PacketCount returns the number of frames seen for the current sentence,
// counting both immediate dispatches and queued frames.
func (c *RateController) PacketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packetCount
}

// Ensure binds the controller to sentenceID. If the controller already owns
// that sentence it is reused as-is. Otherwise the running pacer is cancelled
// and awaited, queued frames of the old sentence are discarded, the packet
// count resets, and a new pacer starts bound to send.
func (c *RateController) Ensure(sentenceID string, send SendFunc) {
	c.mu.Lock()
	if c.epoch == sentenceID && c.pacerDone != nil {
		c.mu.Unlock()
		return
	}
	oldCancel := c.cancel
	oldDone := c.pacerDone
	c.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
		<-oldDone
	}

	pacerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.epoch = sentenceID
	c.packetCount = 0
	c.queue = nil
	c.sendFn = send
	c.cancel = cancel
	c.pacerDone = done
	c.drained.Clear()
	// Flush any stale wakeup from the previous sentence.
	select {
	case <-c.wake:
	default:
	}
	c.mu.Unlock()

	go c.pace(pacerCtx, done)
}

// Dispatch sends one frame immediately, bypassing the queue. Used for the
// pre-buffer frames at the start of a sentence.
func (c *RateController) Dispatch(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	send := c.sendFn
	c.packetCount++
	c.mu.Unlock()
	if send == nil {
		return nil
	}
	return send(ctx, frame)
}

// AddAudio enqueues one frame for paced emission.
func (c *RateController) AddAudio(frame []byte) {
	c.mu.Lock()
	c.queue = append(c.queue, workItem{frame: frame})
	c.packetCount++
	c.drained.Clear()
	c.mu.Unlock()
	c.wakeup()
}

// AddMessage enqueues one control message. It is dispatched in order with
// the surrounding audio but without a pacing delay.
func (c *RateController) AddMessage(fn MessageFunc) {
	c.mu.Lock()
	c.queue = append(c.queue, workItem{msg: fn})
	c.drained.Clear()
	c.mu.Unlock()
	c.wakeup()
}

// WaitDrained blocks until the queue is empty and the pacer is idle, or
// until timeout elapses or ctx is cancelled. Returns false on timeout or
// cancellation.
//
// The caller must have enqueued all work for the sentence before waiting;
// a concurrent AddAudio can clear the signal again after the wait returns.
func (c *RateController) WaitDrained(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-c.drained.Wait():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops the pacer. The controller can be restarted with Ensure.
func (c *RateController) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.pacerDone
	c.cancel = nil
	c.pacerDone = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *RateController) wakeup() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pace is the background pacer loop. It pops work items in order, hands
// them to the send callback, and spaces audio frames at the configured
// interval. When the queue runs dry it raises the drained signal and parks
// until the next enqueue.
func (c *RateController) pace(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := c.frameDuration
	if c.fixedDelay > 0 {
		interval = c.fixedDelay
	}

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			// Queue empty and the last popped item is fully dispatched.
			c.drained.Set()
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		item := c.queue[0]
		c.queue = c.queue[1:]
		send := c.sendFn
		c.mu.Unlock()

		if item.msg != nil {
			if err := item.msg(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Error("control message dispatch failed", "error", err)
			}
			continue
		}

		if err := send(ctx, item.frame); err != nil {
			if ctx.Err() != nil {
				return
			}
			// One broken frame must not stop the stream.
			c.logger.Error("audio frame dispatch failed", "error", err)
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
	}
}
