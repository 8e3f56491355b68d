package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject calls
	StateHalfOpen              // One trial call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to a flaky dependency.
// Transitions: Closed → Open (after failThreshold consecutive failures)
//
//	Open → HalfOpen (first call after openTimeout)
//	HalfOpen → Closed (on success) or Open (on failure)
//
// While half-open only the trial call runs; concurrent callers get ErrCircuitOpen.
type CircuitBreaker struct {
	name          string
	logger        *zap.Logger
	failThreshold int
	openTimeout   time.Duration
	now           func() time.Time

	mu        sync.Mutex
	state     State
	failCount int
	openedAt  time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
func NewCircuitBreaker(name string, failThreshold int, openTimeout time.Duration, logger *zap.Logger) *CircuitBreaker {
	if failThreshold < 1 {
		failThreshold = 1
	}
	return &CircuitBreaker{
		name:          name,
		logger:        logger,
		failThreshold: failThreshold,
		openTimeout:   openTimeout,
		now:           time.Now,
		state:         StateClosed,
	}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.openTimeout {
			return false
		}
		cb.setState(StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failCount = 0
		cb.setState(StateClosed)
		return
	}

	cb.failCount++
	if cb.state == StateHalfOpen || cb.failCount >= cb.failThreshold {
		cb.openedAt = cb.now()
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s State) {
	if cb.state == s {
		return
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.Stringer("from", cb.state),
		zap.Stringer("to", s),
		zap.Int("failures", cb.failCount))
	cb.state = s
}

// CurrentState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
