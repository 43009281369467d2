// Package app wires all danmakucast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the servers and the dialogue loop, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithUpstreamSource,
// WithFrameEncoder). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumehara/danmakucast/internal/audio"
	"github.com/lumehara/danmakucast/internal/config"
	"github.com/lumehara/danmakucast/internal/device"
	"github.com/lumehara/danmakucast/internal/dialogue"
	"github.com/lumehara/danmakucast/internal/gateway"
	"github.com/lumehara/danmakucast/internal/pipeline"
	"github.com/lumehara/danmakucast/internal/tts"
	"github.com/lumehara/danmakucast/internal/upstream"
	"github.com/lumehara/danmakucast/pkg/provider/llm"
	ttsprov "github.com/lumehara/danmakucast/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry. TTS may be nil; the dialogue loop then runs without
// audio output.
type Providers struct {
	LLM llm.Provider
	TTS ttsprov.Synthesizer
}

// App owns all subsystem lifetimes and runs the danmaku-to-audio pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	registry      *device.Registry
	pipe          *pipeline.Pipeline
	engine        *tts.Engine
	queue         *dialogue.Queue
	orc           *dialogue.Orchestrator
	source        upstream.Source
	sourceFactory SourceFactory
	encoder       tts.FrameEncoder

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// SourceFactory builds an upstream source bound to the app's event handler.
type SourceFactory func(upstream.Handler) (upstream.Source, error)

// WithUpstreamSource injects an upstream source factory instead of selecting
// one from config.
func WithUpstreamSource(f SourceFactory) Option {
	return func(a *App) { a.sourceFactory = f }
}

// WithFrameEncoder injects a frame encoder instead of creating the Opus codec.
func WithFrameEncoder(enc tts.FrameEncoder) Option {
	return func(a *App) { a.encoder = enc }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(cfg *config.Config, providers *Providers, logger *slog.Logger, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		logger:    logger,
	}
	for _, o := range opts {
		o(a)
	}

	a.registry = device.NewRegistry(logger)

	var rcOpts []audio.RateControllerOption
	if cfg.TTSAudioSendDelay > 0 {
		rcOpts = append(rcOpts, audio.WithFixedDelay(time.Duration(cfg.TTSAudioSendDelay)*time.Millisecond))
	}
	rc := audio.NewRateController(logger, rcOpts...)
	a.pipe = pipeline.New(rc, a.registry, logger)
	a.closers = append(a.closers, func() error {
		a.pipe.Close()
		return nil
	})

	if a.encoder == nil && providers.TTS != nil {
		enc, err := tts.NewOpusEncoder(tts.DeviceSampleRate, 1)
		if err != nil {
			return nil, fmt.Errorf("app: create opus encoder: %w", err)
		}
		a.encoder = enc
	}
	a.engine = tts.NewEngine(providers.TTS, a.encoder, a.pipe, logger)

	a.queue = dialogue.NewQueue()
	a.orc = dialogue.NewOrchestrator(
		a.queue,
		dialogue.NewDialogue(cfg.Prompt),
		providers.LLM,
		a.engine,
		a.pipe,
		nil,
		logger,
	)

	if err := a.initSource(); err != nil {
		return nil, err
	}

	a.closers = append(a.closers, func() error {
		a.registry.CloseAll("server shutting down")
		return nil
	})
	return a, nil
}

// initSource selects the upstream feed: injected double, mock script, or the
// proxy collector, in that order of precedence.
func (a *App) initSource() error {
	if a.sourceFactory != nil {
		s, err := a.sourceFactory(a.orc.HandleEvent)
		if err != nil {
			return fmt.Errorf("app: create upstream source: %w", err)
		}
		a.source = s
		return nil
	}

	switch {
	case a.cfg.Danmaku.UseMock:
		a.source = upstream.NewMock(a.orc.HandleEvent, a.logger)
		a.logger.Info("using mock danmaku upstream")
	case a.cfg.Danmaku.UseProxy:
		c, err := upstream.NewCollector(a.cfg.Danmaku.ProxyWSURL, a.orc.HandleEvent, a.logger)
		if err != nil {
			return fmt.Errorf("app: create upstream collector: %w", err)
		}
		a.source = c
		a.logger.Info("using proxy danmaku upstream", "url", a.cfg.Danmaku.ProxyWSURL)
	default:
		a.source = upstream.NewMock(a.orc.HandleEvent, a.logger)
		a.logger.Warn("no danmaku upstream configured, falling back to the mock script")
	}
	return nil
}

// Run starts the device servers, the upstream feed, and the dialogue loop,
// then blocks until ctx is cancelled. It returns the first fatal subsystem
// error, or ctx's error on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	wsAddr := net.JoinHostPort(a.cfg.Danmaku.WSHost, strconv.Itoa(a.cfg.Danmaku.WSPort))
	otaAddr := net.JoinHostPort(a.cfg.Danmaku.HTTPHost, strconv.Itoa(a.cfg.Danmaku.HTTPPort))

	wsSrv := &http.Server{
		Addr:    wsAddr,
		Handler: gateway.NewServer(a.registry, a.logger).Handler(),
	}
	otaSrv := &http.Server{
		Addr:              otaAddr,
		Handler:           gateway.NewOTAServer(a.deviceWSURL(), a.cfg.Server.TimezoneOffset, a.logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return serveHTTP(wsSrv, "websocket") })
	g.Go(func() error { return serveHTTP(otaSrv, "ota") })
	g.Go(func() error {
		if err := a.orc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: dialogue loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: upstream feed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := wsSrv.Shutdown(sctx); err != nil {
			a.logger.Warn("websocket server shutdown error", "error", err)
		}
		if err := otaSrv.Shutdown(sctx); err != nil {
			a.logger.Warn("ota server shutdown error", "error", err)
		}
		return nil
	})

	a.logger.Info("danmakucast running",
		"ws_addr", wsAddr, "ota_addr", otaAddr, "device_ws_url", a.deviceWSURL())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// serveHTTP runs one HTTP server, treating a graceful close as success.
func serveHTTP(srv *http.Server, name string) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: %s server: %w", name, err)
	}
	return nil
}

// deviceWSURL is the WebSocket URL advertised to devices through the OTA
// endpoint. A wildcard bind address is replaced with the host's outbound IP,
// which is what devices on the LAN can actually reach.
func (a *App) deviceWSURL() string {
	host := a.cfg.Danmaku.WSHost
	if host == "0.0.0.0" || host == "::" || host == "" {
		host = outboundIP()
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(a.cfg.Danmaku.WSPort)) + gateway.WSPath
}

// outboundIP returns the local address used for outbound traffic. The UDP
// dial sends no packets; it only asks the kernel for a route.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
