// Package gateway exposes the device-facing network surfaces: the WebSocket
// endpoint hardware clients stream over, and the OTA provisioning endpoint
// they call on boot to discover it.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/lumehara/danmakucast/internal/device"
	"github.com/lumehara/danmakucast/internal/observe"
	"github.com/lumehara/danmakucast/internal/tts"
)

// WSPath is the WebSocket endpoint devices connect to.
const WSPath = "/danmaku/"

// helloMessage is the server handshake sent right after the upgrade. It tells
// the device which audio format the broadcast carries.
type helloMessage struct {
	Type        string      `json:"type"`
	Version     int         `json:"version"`
	Transport   string      `json:"transport"`
	SessionID   string      `json:"session_id"`
	AudioParams audioParams `json:"audio_params"`
}

type audioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// Server accepts device WebSocket connections and registers them for the
// broadcast fan-out. Devices are pure consumers: the server reads their
// messages only to keep the connection alive and log what they report.
type Server struct {
	registry *device.Registry
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// NewServer creates the WebSocket gateway backed by the given registry.
func NewServer(registry *device.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, metrics: observe.DefaultMetrics(), logger: logger}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(WSPath, s.handleWS)
	return mux
}

// DeviceID extracts the client-reported device ID from a request, checking
// the device-id header first and the query string second.
func DeviceID(r *http.Request) string {
	if id := r.Header.Get("device-id"); id != "" {
		return id
	}
	return r.URL.Query().Get("device-id")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	deviceID := DeviceID(r)
	if deviceID == "" {
		s.logger.Warn("device connected without an ID, refusing", "remote", r.RemoteAddr)
		s.writeText(ctx, conn, []byte(`{"type":"error","message":"missing device-id"}`))
		conn.Close(websocket.StatusPolicyViolation, "missing device-id")
		return
	}

	// Register before the handshake so a broadcast racing the hello already
	// reaches the new device.
	d := &device.Device{
		ID:         deviceID,
		Conn:       conn,
		RemoteAddr: r.RemoteAddr,
	}
	s.registry.Add(d)
	s.metrics.ConnectedDevices.Add(ctx, 1)
	defer func() {
		s.registry.RemoveDevice(d)
		s.metrics.ConnectedDevices.Add(context.Background(), -1)
	}()

	if err := s.sendHello(ctx, conn, deviceID); err != nil {
		s.logger.Error("hello handshake failed", "device_id", deviceID, "error", err)
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return
	}

	s.readLoop(ctx, conn, deviceID)
	conn.Close(websocket.StatusNormalClosure, "")
}

// writeText writes one text frame with a bounded deadline, logging failures.
func (s *Server) writeText(ctx context.Context, conn *websocket.Conn, payload []byte) {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, payload); err != nil {
		s.logger.Debug("write to device failed", "error", err)
	}
}

// sendHello writes the handshake frame announcing the broadcast audio format.
func (s *Server) sendHello(ctx context.Context, conn *websocket.Conn, deviceID string) error {
	hello := helloMessage{
		Type:      "hello",
		Version:   1,
		Transport: "websocket",
		SessionID: deviceID,
		AudioParams: audioParams{
			Format:        "opus",
			SampleRate:    tts.DeviceSampleRate,
			Channels:      1,
			FrameDuration: int(tts.FrameDuration / time.Millisecond),
		},
	}
	payload, err := json.Marshal(hello)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

// readLoop drains inbound messages until the connection drops. Device
// messages carry no commands the broadcast reacts to; they are logged and
// discarded.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, deviceID string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || ctx.Err() != nil {
				s.logger.Debug("device connection closed", "device_id", deviceID)
			} else {
				s.logger.Info("device connection dropped", "device_id", deviceID, "error", err)
			}
			return
		}
		if typ == websocket.MessageText {
			s.logger.Debug("device message", "device_id", deviceID, "payload", string(data))
		}
	}
}
