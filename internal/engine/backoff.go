package engine

import (
	"math/rand/v2"
	"time"

	"github.com/jobs/integration-engine/pkg/config"
)

// Backoff 指数退避: base × 2^(attempt-1), 不超过 Max, 再加减 Jitter 比例的抖动
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	// rand returns a value in [0, 1).
	rand func() float64
}

func NewBackoff(cfg config.RetryConfig) Backoff {
	return Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay, Jitter: cfg.Jitter}
}

// Delay returns the wait before the retry that follows failed attempt
// `attempt` (1 based). A provider retry hint longer than the computed delay
// wins.
func (b Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			d = b.Max
			break
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}

	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		d = time.Duration(float64(d) * (1 + b.Jitter*(2*r()-1)))
	}
	if d < 0 {
		d = 0
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}
