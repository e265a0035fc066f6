package exporters

import (
	"sync"
	"time"

	"github.com/goldenfamilyfarms/correlation-station-sub006/pkg/logger"
)

const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker guards an export backend. After failureThreshold
// consecutive failures it opens and sheds requests until recoveryTimeout
// elapses, then allows a single probe in half-open state.
type CircuitBreaker struct {
	mu               sync.Mutex
	logger           logger.Logger
	failureThreshold int
	recoveryTimeout  time.Duration
	failureCount     int
	lastFailure      time.Time
	state            int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration, log logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		logger:           log,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            breakerClosed,
	}
}

// CanExecute reports whether a request may proceed. An open breaker
// transitions to half-open once the recovery timeout has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if !cb.lastFailure.IsZero() && time.Since(cb.lastFailure) >= cb.recoveryTimeout {
			cb.state = breakerHalfOpen
			cb.logger.Info().Msg("Circuit breaker half-open, testing connection")

			return true
		}

		return false
	default:
		// half-open allows the probe through
		return true
	}
}

// RecordSuccess closes the breaker after a successful half-open probe.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == breakerHalfOpen {
		cb.state = breakerClosed
		cb.failureCount = 0
		cb.logger.Info().Msg("Circuit breaker closed, connection recovered")
	}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = time.Now().UTC()

	if cb.failureCount >= cb.failureThreshold && cb.state != breakerOpen {
		cb.state = breakerOpen
		cb.logger.Warn().
			Int("failures", cb.failureCount).
			Dur("recovery_timeout", cb.recoveryTimeout).
			Msg("Circuit breaker open, too many failures")
	}
}

// StateCode returns the state as a numeric code for metrics.
func (cb *CircuitBreaker) StateCode() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}
