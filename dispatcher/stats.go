package dispatcher

import (
	"cmp"
	"slices"
	"time"
)

// HostStats is a snapshot of one origin's scheduling state.
type HostStats struct {
	Origin              string    `json:"origin"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NotBefore           time.Time `json:"not_before"`
	LastDispatchAt      time.Time `json:"last_dispatch_at"`
	Queued              int       `json:"queued"`
	InFlight            int       `json:"in_flight"`
}

// BackedOff reports whether the origin is held at now.
func (s HostStats) BackedOff(now time.Time) bool {
	return now.Before(s.NotBefore)
}

// Stats returns a snapshot of every origin seen so far, sorted by origin.
func (d *Dispatcher) Stats() []HostStats {
	d.mu.Lock()
	stats := make([]HostStats, 0, len(d.hosts))
	for _, h := range d.hosts {
		stats = append(stats, HostStats{
			Origin:              h.origin,
			ConsecutiveFailures: h.consecutiveFailures,
			NotBefore:           h.notBefore,
			LastDispatchAt:      h.lastDispatchAt,
			Queued:              h.queued(),
			InFlight:            h.inFlight,
		})
	}
	d.mu.Unlock()

	slices.SortFunc(stats, func(a, b HostStats) int {
		return cmp.Compare(a.Origin, b.Origin)
	})
	return stats
}

// Now returns the dispatcher's clock time.
func (d *Dispatcher) Now() time.Time {
	return d.clock.Now()
}
