package adapter

import (
	"sync"
	"time"
)

type breakerState string

const (
	breakerClosed   breakerState = "closed"
	breakerOpen     breakerState = "open"
	breakerHalfOpen breakerState = "half-open"
)

// CircuitBreaker 每个服务商一个熔断器
type CircuitBreaker struct {
	mu              sync.Mutex
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	state           breakerState
	threshold       int
	resetTimeout    time.Duration
	now             func() time.Time
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration, now func() time.Time) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		state:        breakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          now,
	}
}

// Allow reports whether a call may go out.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerOpen {
		// 超过恢复时间后进入半开状态
		if cb.now().Sub(cb.lastFailureTime) < cb.resetTimeout {
			return false
		}
		cb.state = breakerHalfOpen
		cb.failureCount = 0
		cb.successCount = 0
	}
	return true
}

// Record feeds the outcome of a call that Allow let through.
func (cb *CircuitBreaker) Record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.failureCount++
		cb.lastFailureTime = cb.now()
		if cb.state == breakerHalfOpen || cb.failureCount >= cb.threshold {
			cb.state = breakerOpen
		}
		return
	}

	switch cb.state {
	case breakerHalfOpen:
		// 半开状态下连续成功后关闭
		cb.successCount++
		if cb.successCount >= 2 {
			cb.state = breakerClosed
			cb.failureCount = 0
		}
	case breakerClosed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return string(cb.state)
}
