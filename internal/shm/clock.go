package shm

import "time"

// nowMonotonicSeconds returns the current time as fractional seconds.
// Go's monotonic clock reading is process-local and can't be compared
// across the worker/coordinator process boundary, so heartbeat and
// timestamp fields use wall-clock seconds instead — stable enough over the
// span of a single load test run, and the only basis every process shares.
func nowMonotonicSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
