// Package device tracks connected playback devices and fans out audio and
// control messages to them.
//
// A device is an ESP32-style hardware client holding a WebSocket connection
// to the server. The registry keys devices by their self-reported device ID;
// a reconnect under the same ID replaces the previous entry and closes the
// stale connection.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Conn is the subset of *websocket.Conn the registry needs. Declared as an
// interface so tests can substitute an in-memory connection.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Device is one connected playback client.
type Device struct {
	// ID is the client-reported device identifier (typically a MAC address).
	ID string

	// Conn is the device's WebSocket connection.
	Conn Conn

	// RemoteAddr is the peer address, for logging.
	RemoteAddr string

	// ConnectedAt is when the connection was registered.
	ConnectedAt time.Time
}

// Registry holds the set of connected devices and broadcasts to them.
// All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	logger  *slog.Logger

	// writeTimeout bounds each per-device send during a broadcast.
	writeTimeout time.Duration
}

// NewRegistry creates an empty device registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		devices:      make(map[string]*Device),
		logger:       logger,
		writeTimeout: 10 * time.Second,
	}
}

// Add registers a device under its ID. If a device with the same ID is
// already registered, the old entry is replaced and its connection is closed
// asynchronously so a slow close cannot block the new registration.
func (r *Registry) Add(d *Device) {
	if d.ConnectedAt.IsZero() {
		d.ConnectedAt = time.Now()
	}

	r.mu.Lock()
	old, replaced := r.devices[d.ID]
	r.devices[d.ID] = d
	n := len(r.devices)
	r.mu.Unlock()

	if replaced {
		r.logger.Info("device reconnected, closing stale connection", "device_id", d.ID, "remote", d.RemoteAddr)
		go old.Conn.Close(websocket.StatusNormalClosure, "replaced by new connection")
	} else {
		r.logger.Info("device connected", "device_id", d.ID, "remote", d.RemoteAddr, "total", n)
	}
}

// Remove deregisters the device with the given ID. Removing an unknown ID is
// a no-op. The connection is not closed; the caller owns its lifecycle.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.devices[id]
	delete(r.devices, id)
	n := len(r.devices)
	r.mu.Unlock()

	if ok {
		r.logger.Info("device disconnected", "device_id", id, "total", n)
	}
}

// RemoveDevice deregisters d only while it is still the registered entry for
// its ID. Connection handlers use it on teardown, so a handler whose
// connection was already replaced by a reconnect cannot remove its successor.
func (r *Registry) RemoveDevice(d *Device) {
	r.mu.Lock()
	current, ok := r.devices[d.ID]
	if ok && current == d {
		delete(r.devices, d.ID)
	} else {
		ok = false
	}
	n := len(r.devices)
	r.mu.Unlock()

	if ok {
		r.logger.Info("device disconnected", "device_id", d.ID, "total", n)
	}
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Snapshot returns the currently registered devices. The slice is a copy;
// callers may iterate it without holding any lock.
func (r *Registry) Snapshot() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// BroadcastAudio sends one binary audio frame to every registered device,
// except the ID named by exclude (empty string excludes nobody). Sends run
// concurrently; a failed send evicts the device and closes its connection.
func (r *Registry) BroadcastAudio(ctx context.Context, frame []byte, exclude string) {
	r.broadcast(ctx, websocket.MessageBinary, frame, exclude)
}

// BroadcastMessage sends one text (JSON) message to every registered device,
// except the ID named by exclude. Semantics match BroadcastAudio.
func (r *Registry) BroadcastMessage(ctx context.Context, payload []byte, exclude string) {
	r.broadcast(ctx, websocket.MessageText, payload, exclude)
}

func (r *Registry) broadcast(ctx context.Context, typ websocket.MessageType, payload []byte, exclude string) {
	targets := r.Snapshot()
	if len(targets) == 0 {
		r.logger.Warn("broadcast with no connected devices")
		return
	}

	var wg sync.WaitGroup
	for _, d := range targets {
		if d.ID == exclude {
			continue
		}
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
			defer cancel()
			if err := d.Conn.Write(wctx, typ, payload); err != nil {
				r.logger.Warn("broadcast send failed, evicting device",
					"device_id", d.ID, "remote", d.RemoteAddr, "error", err)
				r.evict(d)
			}
		}(d)
	}
	wg.Wait()
}

// evict removes d from the registry and closes its connection, but only if
// the registered entry is still d. A device that reconnected during the
// broadcast keeps its fresh connection.
func (r *Registry) evict(d *Device) {
	r.mu.Lock()
	current, ok := r.devices[d.ID]
	if ok && current == d {
		delete(r.devices, d.ID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if ok {
		d.Conn.Close(websocket.StatusInternalError, "send failed")
	}
}

// CloseAll closes every registered connection and empties the registry.
// Used during shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	for _, d := range devices {
		if err := d.Conn.Close(websocket.StatusGoingAway, reason); err != nil {
			r.logger.Debug("close device connection", "device_id", d.ID, "error", err)
		}
	}
}

// String implements fmt.Stringer for diagnostic logging.
func (r *Registry) String() string {
	return fmt.Sprintf("device.Registry(%d connected)", r.Count())
}
