package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Handler receives every decoded upstream event.
type Handler func(ctx context.Context, ev Event)

// Source is a running upstream feed. The app layer picks a concrete source
// (proxy collector or mock) based on configuration.
type Source interface {
	Run(ctx context.Context) error
}

// Stats counts processed upstream messages by kind.
type Stats struct {
	TotalMessages int64
	ChatCount     int64
	LikeCount     int64
	GiftCount     int64
	FollowCount   int64
	EnterCount    int64
}

const (
	reconnectDelay       = 5 * time.Second
	maxReconnectAttempts = 100

	// quietWarnAfter is how long without a chat message before the operator
	// is nudged to restart the proxy.
	quietWarnAfter = 60 * time.Second
)

// Collector connects to a DouyinBarrageGrab-style WebSocket push server,
// decodes its envelopes, and hands events to the configured handler.
//
// The connection is retried with a linear backoff; after the attempt limit
// Run returns an error. A connection that drops mid-stream resets the
// attempt counter on the next successful dial.
type Collector struct {
	url     string
	handler Handler
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewCollector creates a Collector targeting the proxy at wsURL.
func NewCollector(wsURL string, handler Handler, logger *slog.Logger) (*Collector, error) {
	if wsURL == "" {
		return nil, errors.New("upstream: wsURL must not be empty")
	}
	if handler == nil {
		return nil, errors.New("upstream: handler must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{url: wsURL, handler: handler, logger: logger}, nil
}

// Stats returns a snapshot of the message counters.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run dials the proxy and consumes messages until ctx is cancelled or the
// reconnect budget is exhausted.
func (c *Collector) Run(ctx context.Context) error {
	attempts := 0
	for attempts < maxReconnectAttempts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			attempts++
			c.logger.Warn("upstream dial failed, retrying",
				"url", c.url, "attempt", attempts, "max", maxReconnectAttempts, "error", err)
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		c.logger.Info("connected to upstream proxy", "url", c.url)
		attempts = 0

		err = c.listen(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		c.logger.Warn("upstream connection lost, reconnecting",
			"attempt", attempts, "error", err)
		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upstream: giving up after %d reconnect attempts", maxReconnectAttempts)
}

// listen consumes messages from one connection until it fails or ctx ends.
func (c *Collector) listen(ctx context.Context, conn *websocket.Conn) error {
	lastChat := time.Now()
	warnedQuiet := false

	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := DecodeEnvelope(raw)
		if err != nil {
			c.logger.Warn("dropping malformed upstream message", "error", err)
			continue
		}

		c.record(ev)

		if ev.Kind == KindChat {
			lastChat = time.Now()
			warnedQuiet = false
		} else if !warnedQuiet && time.Since(lastChat) > quietWarnAfter {
			c.logger.Warn("no chat messages received recently, the proxy may need a restart",
				"quiet_for", time.Since(lastChat).Round(time.Second))
			warnedQuiet = true
		}

		if ev.Kind == KindLiveEnd {
			c.logger.Info("live stream ended", "stats", c.Stats())
			c.resetStats()
		}

		c.handler(ctx, ev)
	}
}

func (c *Collector) record(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.TotalMessages++
	switch ev.Kind {
	case KindChat:
		c.stats.ChatCount++
	case KindLike:
		c.stats.LikeCount++
	case KindGift:
		c.stats.GiftCount++
	case KindFollow:
		c.stats.FollowCount++
	case KindEnter:
		c.stats.EnterCount++
	}
}

func (c *Collector) resetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}
