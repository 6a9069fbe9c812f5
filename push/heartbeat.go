package push

import "time"

const (
	// Heartbeat bounds accepted by every server generation we target.
	minHeartbeat = 60 * time.Second
	maxHeartbeat = 20 * time.Minute

	initialHeartbeat = 5 * time.Minute

	// successesToGrow is how many consecutive quiet heartbeats earn a longer
	// interval.
	successesToGrow = 3

	growthFactor = 1.5
)

// heartbeat tracks the adaptive long-poll duration for one account loop.
// Not safe for concurrent use; each loop owns one.
type heartbeat struct {
	current   time.Duration
	successes int
}

func newHeartbeat() *heartbeat {
	return &heartbeat{current: initialHeartbeat}
}

func (h *heartbeat) duration() time.Duration {
	return h.current
}

func (h *heartbeat) seconds() int {
	return int(h.current / time.Second)
}

// success records a quiet or productive heartbeat. Every third consecutive
// success stretches the interval toward the maximum.
func (h *heartbeat) success() {
	h.successes++
	if h.successes < successesToGrow {
		return
	}
	h.successes = 0
	h.current = time.Duration(float64(h.current) * growthFactor)
	if h.current > maxHeartbeat {
		h.current = maxHeartbeat
	}
}

// shrink halves the interval, flooring at the minimum. Used both for the
// server's out-of-bounds rejection and for error streaks.
func (h *heartbeat) shrink() {
	h.successes = 0
	h.current /= 2
	if h.current < minHeartbeat {
		h.current = minHeartbeat
	}
}
