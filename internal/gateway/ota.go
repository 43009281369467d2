package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumehara/danmakucast/internal/observe"
)

// OTAPath is the provisioning endpoint devices poll on boot.
const OTAPath = "/xiaozhi/ota/"

// defaultFirmwareVersion is reported back when a device does not state its
// own version. No firmware images are hosted, so the echo keeps devices from
// attempting an upgrade.
const defaultFirmwareVersion = "1.0.0"

// otaRequest is the subset of the device's boot report the server reads.
type otaRequest struct {
	Application struct {
		Version string `json:"version"`
	} `json:"application"`
}

type otaResponse struct {
	ServerTime otaServerTime `json:"server_time"`
	Firmware   otaFirmware   `json:"firmware"`
	WebSocket  otaWebSocket  `json:"websocket"`
}

type otaServerTime struct {
	// Timestamp is the current server time in milliseconds since the epoch.
	Timestamp int64 `json:"timestamp"`
	// TimezoneOffset is the server timezone offset in minutes.
	TimezoneOffset int `json:"timezone_offset"`
}

type otaFirmware struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

type otaWebSocket struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// OTAServer answers the provisioning requests devices send on boot: current
// server time, a firmware echo, and the WebSocket URL to stream from.
type OTAServer struct {
	wsURL          string
	timezoneOffset time.Duration
	metrics        *observe.Metrics
	logger         *slog.Logger
}

// NewOTAServer creates the provisioning endpoint. wsURL is the externally
// reachable WebSocket URL handed to devices; timezoneOffsetHours is the
// server's offset from UTC.
func NewOTAServer(wsURL string, timezoneOffsetHours int, logger *slog.Logger) *OTAServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OTAServer{
		wsURL:          wsURL,
		timezoneOffset: time.Duration(timezoneOffsetHours) * time.Hour,
		metrics:        observe.DefaultMetrics(),
		logger:         logger,
	}
}

// Handler returns the HTTP handler serving the OTA endpoint and the
// Prometheus scrape endpoint, wrapped in the observability middleware.
func (s *OTAServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(OTAPath, s.handleOTA)
	mux.Handle("/metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

func (s *OTAServer) handleOTA(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "device-id, content-type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodGet, http.MethodPost:
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	version := defaultFirmwareVersion
	if r.Method == http.MethodPost {
		var req otaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.logger.Debug("unreadable ota report", "remote", r.RemoteAddr, "error", err)
		} else if req.Application.Version != "" {
			version = req.Application.Version
		}
	}

	resp := otaResponse{
		ServerTime: otaServerTime{
			Timestamp:      time.Now().UnixMilli(),
			TimezoneOffset: int(s.timezoneOffset / time.Minute),
		},
		Firmware: otaFirmware{Version: version, URL: ""},
		WebSocket: otaWebSocket{
			URL:   s.deviceURL(r),
			Token: "",
		},
	}

	h.Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("write ota response", "error", err)
	}
}

// deviceURL returns the WebSocket URL for the requesting device, carrying its
// ID as a query parameter when it reported one.
func (s *OTAServer) deviceURL(r *http.Request) string {
	id := DeviceID(r)
	if id == "" {
		return s.wsURL
	}
	return s.wsURL + "?device-id=" + id
}
