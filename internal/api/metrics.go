package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/vbus/internal/bus"
)

// SystemMetrics is the /api/v1/metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Bus           bus.Stats      `json:"bus"`
	Queues        []QueueMetrics `json:"queues"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// QueueMetrics reports one notification sink queue.
type QueueMetrics struct {
	Name    string `json:"name"`
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// QueueStats is implemented by *uevent.Queue.
type QueueStats interface {
	Name() string
	Pending() int
	Dropped() uint64
	Failed() uint64
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	queues := make([]QueueMetrics, 0, len(s.queues))
	for _, q := range s.queues {
		queues = append(queues, QueueMetrics{
			Name:    q.Name(),
			Pending: q.Pending(),
			Dropped: q.Dropped(),
			Failed:  q.Failed(),
		})
	}

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Bus:       s.bus.Stats(),
		Queues:    queues,
	})
}
