package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatStartsAtInitial(t *testing.T) {
	hb := newHeartbeat()

	assert.Equal(t, initialHeartbeat, hb.duration())
	assert.Equal(t, 300, hb.seconds())
}

func TestHeartbeatGrowsAfterThreeSuccesses(t *testing.T) {
	hb := newHeartbeat()

	hb.success()
	hb.success()
	assert.Equal(t, initialHeartbeat, hb.duration())

	hb.success()
	assert.Equal(t, time.Duration(float64(initialHeartbeat)*growthFactor), hb.duration())
}

func TestHeartbeatGrowthCapsAtMax(t *testing.T) {
	hb := newHeartbeat()

	for i := 0; i < 30; i++ {
		hb.success()
	}

	assert.Equal(t, maxHeartbeat, hb.duration())
}

func TestHeartbeatShrinkFloorsAtMin(t *testing.T) {
	hb := newHeartbeat()

	for i := 0; i < 10; i++ {
		hb.shrink()
	}

	assert.Equal(t, minHeartbeat, hb.duration())
}

func TestHeartbeatShrinkResetsSuccessStreak(t *testing.T) {
	hb := newHeartbeat()
	hb.success()
	hb.success()

	hb.shrink()
	shrunk := hb.duration()

	// Two more successes are not enough to grow again; the streak restarted.
	hb.success()
	hb.success()
	assert.Equal(t, shrunk, hb.duration())

	hb.success()
	assert.Greater(t, hb.duration(), shrunk)
}
