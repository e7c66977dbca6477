package alerting

import (
	"math"
	"time"
)

const hoursPerDay = 24

// DaysUntil returns the whole days from now until target, rounded up. A
// target later today counts as 1, a target exactly now as 0 and anything in
// the past as zero or negative.
func DaysUntil(target, now time.Time) int {
	return int(math.Ceil(target.Sub(now).Hours() / hoursPerDay))
}

// DaysSince returns the whole days elapsed from past until now, rounded down.
func DaysSince(past, now time.Time) int {
	return int(math.Floor(now.Sub(past).Hours() / hoursPerDay))
}
