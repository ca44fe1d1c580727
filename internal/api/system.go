package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/graytap-core/internal/device"
)

// SystemMetrics represents the system status response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Devices       device.Stats   `json:"devices"`
	Sessions      SessionMetrics `json:"sessions"`
	Events        EventMetrics   `json:"events"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedMessages  uint64 `json:"dropped_messages"`
}

// SessionMetrics counts live sessions.
type SessionMetrics struct {
	Running int `json:"running"`
	Paused  int `json:"paused"`
}

// EventMetrics describes the in-memory event log.
type EventMetrics struct {
	Buffered int    `json:"buffered"`
	Dropped  uint64 `json:"dropped"`
}

// handleSystem returns runtime and engine statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	running, paused := s.sessions.Counts()

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount(), DroppedMessages: s.hub.Dropped()},
		Devices:   s.devices.GetStats(),
		Sessions:  SessionMetrics{Running: running, Paused: paused},
		Events:    EventMetrics{Buffered: s.bus.Len(), Dropped: s.bus.Dropped()},
	})
}
