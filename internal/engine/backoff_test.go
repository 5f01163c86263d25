package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}

	assert.Equal(t, time.Second, b.Delay(1, 0))
	assert.Equal(t, 2*time.Second, b.Delay(2, 0))
	assert.Equal(t, 4*time.Second, b.Delay(3, 0))
	assert.Equal(t, 10*time.Second, b.Delay(5, 0), "capped")
	assert.Equal(t, 10*time.Second, b.Delay(64, 0), "no overflow on large attempts")
	assert.Equal(t, time.Second, b.Delay(0, 0))
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute}
	assert.Equal(t, 5*time.Second, b.Delay(1, 5*time.Second))
	assert.Equal(t, 4*time.Second, b.Delay(3, 2*time.Second))
}

func TestBackoffJitter(t *testing.T) {
	b := Backoff{Base: 10 * time.Second, Jitter: 0.5}

	b.rand = func() float64 { return 0 }
	assert.Equal(t, 5*time.Second, b.Delay(1, 0))
	b.rand = func() float64 { return 0.5 }
	assert.Equal(t, 10*time.Second, b.Delay(1, 0))
	b.rand = func() float64 { return 0.75 }
	assert.Equal(t, 12500*time.Millisecond, b.Delay(1, 0))

	// 抖动不会把延迟压到服务商要求之下
	b.rand = func() float64 { return 0 }
	assert.Equal(t, 9*time.Second, b.Delay(1, 9*time.Second))
}
