// File: internal/tailer/backoff.go
// Brief: Exponential reconnect backoff shared by producers and the watcher.

package tailer

import "time"

const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second

	// healthyStreamPeriod separates flapping streams from healthy ones: a
	// stream that lived at least this long resets the retry counter.
	healthyStreamPeriod = 5 * time.Second
)

// Delay returns the reconnect delay for the nth consecutive failure:
// min(base << n, cap).
func Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	// 1s << 6 already exceeds the 60s cap.
	if n >= 6 {
		return backoffCap
	}
	d := backoffBase << uint(n)
	if d > backoffCap {
		return backoffCap
	}
	return d
}
