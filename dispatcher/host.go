package dispatcher

import (
	"cmp"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/ar-nelson/tapir-sub001/clock"
)

// host is the scheduling state of one origin. It is guarded by the
// dispatcher mutex and never outlives the dispatcher.
type host struct {
	origin string

	consecutiveFailures int
	notBefore           time.Time
	lastDispatchAt      time.Time

	// queues holds one FIFO per urgency, most urgent first. Entries are
	// ordered by arrival so a retried request keeps its place.
	queues [urgencyCount][]*pending
	spaced []*pending

	inFlight       int
	spacedInFlight bool

	// spacer enforces the gap between Spaced starts. It is only consulted
	// with clock time, never wall time.
	spacer *rate.Limiter

	wake    clock.Timer
	wakeAt  time.Time
	wakeGen uint64
}

func newHost(origin string, gap time.Duration) *host {
	limit := rate.Inf
	if gap > 0 {
		limit = rate.Every(gap)
	}
	return &host{
		origin: origin,
		spacer: rate.NewLimiter(limit, 1),
	}
}

func (h *host) enqueue(p *pending) {
	if p.priority.IsSpaced() {
		h.spaced = insertByArrival(h.spaced, p)
		return
	}
	i := int(p.priority.Urgency()) - 1
	h.queues[i] = insertByArrival(h.queues[i], p)
}

func (h *host) queued() int {
	n := len(h.spaced)
	for _, q := range h.queues {
		n += len(q)
	}
	return n
}

// take removes every request that may start at now and marks it in flight.
// The returned time, when non-zero, is when take should be called again
// because a held request becomes ready; requests held only by the
// concurrency cap or an in-flight Spaced request are released by the
// completion that frees them.
func (h *host) take(now time.Time, limit int) ([]*pending, time.Time) {
	if h.queued() == 0 {
		return nil, time.Time{}
	}
	if now.Before(h.notBefore) {
		return nil, h.notBefore
	}

	room := func() bool { return limit <= 0 || h.inFlight < limit }

	var ready []*pending
	for i := range h.queues {
		for len(h.queues[i]) > 0 && room() {
			ready = append(ready, h.queues[i][0])
			h.queues[i][0] = nil
			h.queues[i] = h.queues[i][1:]
			h.inFlight++
		}
	}

	var wake time.Time
	if len(h.spaced) > 0 && !h.spacedInFlight && room() {
		r := h.spacer.ReserveN(now, 1)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			wake = now.Add(delay)
		} else {
			ready = append(ready, h.spaced[0])
			h.spaced[0] = nil
			h.spaced = h.spaced[1:]
			h.inFlight++
			h.spacedInFlight = true
		}
	}

	return ready, wake
}

// release marks p as no longer in flight.
func (h *host) release(p *pending) {
	h.inFlight--
	if p.priority.IsSpaced() {
		h.spacedInFlight = false
	}
}

// backOff holds the origin until at, unless it is already held longer.
func (h *host) backOff(at time.Time) {
	if at.After(h.notBefore) {
		h.notBefore = at
	}
}

func insertByArrival(q []*pending, p *pending) []*pending {
	i, _ := slices.BinarySearchFunc(q, p.seq, func(e *pending, seq uint64) int {
		return cmp.Compare(e.seq, seq)
	})
	return slices.Insert(q, i, p)
}
