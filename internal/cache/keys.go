package cache

import (
	"time"
)

// DefaultWindow is the width of the time buckets used as cache
// keys for data which may be changed by other users at any time.
const DefaultWindow = 30 * time.Second

// TimeBucket returns the index of the time window which contains t.
// Using it as (part of) a cache key bounds staleness to one window,
// without requiring any signal about external changes.
// A non-positive window always returns 0, i.e. a single bucket forever.
func TimeBucket(t time.Time, window time.Duration) int64 {
	if window <= 0 {
		return 0
	}
	return t.UnixNano() / int64(window)
}
