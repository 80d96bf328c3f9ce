package unit

import "time"

// DualTimestamp records one event in both realtime (wall clock) and
// monotonic form, the way the original supervisor reports lifecycle
// timestamps.
type DualTimestamp struct {
	Realtime  time.Time
	Monotonic time.Duration
}

// IsSet reports whether the timestamp has been taken.
func (t DualTimestamp) IsSet() bool {
	return !t.Realtime.IsZero()
}
