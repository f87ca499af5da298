package notify

import (
	"context"
	"time"

	"github.com/nerrad567/vbus/internal/bus"
)

// StatsSource reports bus membership counts.
type StatsSource interface {
	Name() string
	Stats() bus.Stats
}

// StatsWriter records a membership snapshot.
type StatsWriter interface {
	WriteBusStats(bus string, devices, drivers, bound int)
}

// ReportStats writes a snapshot of src every interval until ctx is done.
// One snapshot is written immediately.
func ReportStats(ctx context.Context, src StatsSource, w StatsWriter, interval time.Duration) {
	write := func() {
		s := src.Stats()
		w.WriteBusStats(src.Name(), s.Devices, s.Drivers, s.Bound)
	}

	write()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			write()
		}
	}
}
