package upstream_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lumehara/danmakucast/internal/upstream"
)

// proxyServer is a fake DouyinBarrageGrab push endpoint: it accepts one
// connection and sends the scripted raw envelopes.
func proxyServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		// Keep the connection open so the collector does not enter its
		// reconnect delay while the test inspects results.
		<-ctx.Done()
	}))
}

// eventRecorder collects handled events.
type eventRecorder struct {
	mu     sync.Mutex
	events []upstream.Event
}

func (r *eventRecorder) handle(_ context.Context, ev upstream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []upstream.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]upstream.Event(nil), r.events...)
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []upstream.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evs := r.snapshot(); len(evs) >= n {
			return evs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("received %d events, want %d", len(r.snapshot()), n)
	return nil
}

func TestCollector_DecodesAndDispatches(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"Type":1,"Data":"{\"User\":{\"Nickname\":\"小明\"},\"Content\":\"你好\"}"}`,
		`{"Type":5,"Data":"{\"User\":{\"Nickname\":\"小红\"},\"GiftName\":\"火箭\",\"GiftCount\":2}"}`,
		`not json at all`,
		`{"Type":2,"Data":"{\"User\":{\"Nickname\":\"小刚\"}}"}`,
	}
	ts := proxyServer(t, frames)
	defer ts.Close()

	rec := &eventRecorder{}
	c, err := upstream.NewCollector("ws"+strings.TrimPrefix(ts.URL, "http"), rec.handle,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	// The malformed frame is dropped, so three events arrive.
	evs := rec.waitFor(t, 3)
	if evs[0].Kind != upstream.KindChat || evs[0].Content != "你好" {
		t.Errorf("first event = %+v", evs[0])
	}
	if evs[1].Kind != upstream.KindGift || evs[1].GiftName != "火箭" || evs[1].GiftCount != 2 {
		t.Errorf("second event = %+v", evs[1])
	}
	if evs[2].Kind != upstream.KindLike {
		t.Errorf("third event = %+v", evs[2])
	}

	stats := c.Stats()
	if stats.TotalMessages != 3 || stats.ChatCount != 1 || stats.GiftCount != 1 || stats.LikeCount != 1 {
		t.Errorf("stats = %+v", stats)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestCollector_LiveEndResetsStats(t *testing.T) {
	t.Parallel()
	frames := []string{
		`{"Type":1,"Data":"{\"Content\":\"弹幕\"}"}`,
		`{"Type":9}`,
	}
	ts := proxyServer(t, frames)
	defer ts.Close()

	rec := &eventRecorder{}
	c, err := upstream.NewCollector("ws"+strings.TrimPrefix(ts.URL, "http"), rec.handle,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	evs := rec.waitFor(t, 2)
	if evs[1].Kind != upstream.KindLiveEnd {
		t.Fatalf("second event = %+v, want live end", evs[1])
	}
	if stats := c.Stats(); stats.TotalMessages != 0 {
		t.Errorf("stats after live end = %+v, want reset", stats)
	}
}

func TestCollector_ValidatesArguments(t *testing.T) {
	t.Parallel()
	if _, err := upstream.NewCollector("", func(context.Context, upstream.Event) {}, nil); err == nil {
		t.Error("NewCollector accepted an empty URL")
	}
	if _, err := upstream.NewCollector("ws://host", nil, nil); err == nil {
		t.Error("NewCollector accepted a nil handler")
	}
}
