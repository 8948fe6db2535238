package scheduler

import "time"

// retryDelay doubles the base delay per attempt, capped at max.
// Attempt 1 is the first retry after the initial failure.
func retryDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
