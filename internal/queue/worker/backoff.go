package worker

import (
	"math/rand"
	"time"
)

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// ExponentialBackoff returns the delay before retry number attempt,
// doubling from 2s up to a 5 minute cap, with up to 250ms of jitter so
// failed mail jobs do not all come back at once.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := backoffCap
	if attempt < 16 {
		delay = backoffBase << uint(attempt)
		if delay > backoffCap {
			delay = backoffCap
		}
	}

	return delay + time.Duration(rand.Intn(250))*time.Millisecond
}
