package scheduler

import (
	"time"

	"github.com/syncstack/airsync/internal/models"
)

// IntervalPolicy bounds the computed polling interval. The night window
// stretches the interval during hours where nobody reads the results anyway.
type IntervalPolicy struct {
	MinInterval   time.Duration
	NightInterval time.Duration
	NightStart    int // hour, local time
	NightEnd      int // hour, local time
}

// EffectiveInterval computes the polling interval covering every account that
// relies on scheduled sync. Accounts served by a working push loop are
// excluded; an account with a non-positive requested interval opted out of
// scheduling entirely. A zero return disables the scheduled pass.
func EffectiveInterval(accounts []*models.Account, now time.Time, policy IntervalPolicy, pushSupported func(accountID string) bool) time.Duration {
	var interval time.Duration
	for _, account := range accounts {
		if account.PushCapable() && pushSupported(account.ID) {
			continue
		}
		if account.SyncIntervalMinutes <= 0 {
			continue
		}
		requested := time.Duration(account.SyncIntervalMinutes) * time.Minute
		if interval == 0 || requested < interval {
			interval = requested
		}
	}
	if interval == 0 {
		return 0
	}

	if interval < policy.MinInterval {
		interval = policy.MinInterval
	}
	if inNightWindow(now, policy.NightStart, policy.NightEnd) {
		night := policy.NightInterval
		if night < policy.MinInterval {
			night = policy.MinInterval
		}
		if night > interval {
			interval = night
		}
	}
	return interval
}

// inNightWindow handles windows that wrap midnight, e.g. 23 to 6.
func inNightWindow(now time.Time, startHour, endHour int) bool {
	if startHour == endHour {
		return false
	}
	h := now.Hour()
	if startHour < endHour {
		return h >= startHour && h < endHour
	}
	return h >= startHour || h < endHour
}
