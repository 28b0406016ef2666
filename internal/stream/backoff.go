package stream

import "time"

const maxReconnectDelay = 30 * time.Second

// ReconnectDelay returns the wait before reconnect attempt n (1-based,
// counting consecutive failures). The first retry is quick, the next two
// slightly slower, then bounded exponential growth up to the ceiling.
func ReconnectDelay(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return time.Second
	case attempt <= 3:
		return 5 * time.Second
	default:
		exp := attempt - 4
		if exp > 2 {
			exp = 2
		}
		delay := 10 * time.Second * time.Duration(1<<exp)
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		return delay
	}
}
