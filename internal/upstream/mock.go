package upstream

import (
	"context"
	"log/slog"
	"time"
)

// defaultMockInterval spaces the canned chat events far enough apart for a
// full dialogue round per event.
const defaultMockInterval = 15 * time.Second

// mockScript is the canned chat traffic emitted by the mock source.
var mockScript = []Event{
	{Kind: KindChat, User: User{ID: 1001, Nickname: "小明"}, Content: "主播好！"},
	{Kind: KindEnter, User: User{ID: 1002, Nickname: "路人甲"}, CurrentCount: 42},
	{Kind: KindChat, User: User{ID: 1002, Nickname: "路人甲"}, Content: "今天聊点什么？"},
	{Kind: KindLike, User: User{ID: 1001, Nickname: "小明"}, LikeCount: 5, LikeTotal: 120},
	{Kind: KindChat, User: User{ID: 1003, Nickname: "夜猫子"}, Content: "推荐一首歌吧"},
	{Kind: KindGift, User: User{ID: 1003, Nickname: "夜猫子"}, GiftName: "小心心", GiftCount: 1},
	{Kind: KindChat, User: User{ID: 1001, Nickname: "小明"}, Content: "讲个笑话听听"},
}

// Mock is an in-process upstream source that replays a canned chat script.
// It lets the whole pipeline run without a live room or proxy.
type Mock struct {
	handler  Handler
	interval time.Duration
	logger   *slog.Logger
}

// MockOption configures a Mock source.
type MockOption func(*Mock)

// WithMockInterval overrides the delay between scripted events.
func WithMockInterval(d time.Duration) MockOption {
	return func(m *Mock) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMock creates a Mock source delivering events to handler.
func NewMock(handler Handler, logger *slog.Logger, opts ...MockOption) *Mock {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mock{handler: handler, interval: defaultMockInterval, logger: logger}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run replays the script in a loop until ctx is cancelled.
func (m *Mock) Run(ctx context.Context) error {
	m.logger.Info("mock upstream started", "interval", m.interval, "script_len", len(mockScript))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ev := mockScript[i%len(mockScript)]
			i++
			m.logger.Debug("mock upstream event", "kind", ev.Kind, "user", ev.User.Nickname, "content", ev.Content)
			m.handler(ctx, ev)
		}
	}
}

var (
	_ Source = (*Mock)(nil)
	_ Source = (*Collector)(nil)
)
