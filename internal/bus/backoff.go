package bus

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Initial doubled per attempt, capped at Max,
// with up to Jitter (fraction) spread around the value.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Initial: time.Second,
		Max:     30 * time.Second,
		Jitter:  0.1,
	}
}

func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	if delay <= 0 {
		delay = time.Second
	}
	for i := 0; i < attempt; i++ {
		delay *= 2
		if b.Max > 0 && delay >= b.Max {
			delay = b.Max
			break
		}
	}

	if b.Jitter > 0 {
		spread := float64(delay) * b.Jitter
		delay += time.Duration(spread*rand.Float64() - spread/2)
	}
	return delay
}
