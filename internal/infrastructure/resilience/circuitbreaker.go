package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Failing, reject calls
	StateHalfOpen              // One probe call allowed
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

// Option customizes a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithFailureFilter sets which errors count towards tripping the breaker.
// Errors rejected by the filter are returned to the caller and count as a success.
// Context cancellation is never passed to the filter; see Execute.
func WithFailureFilter(fn func(error) bool) Option {
	return func(cb *CircuitBreaker) { cb.isFailure = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// CircuitBreaker guards calls to one upstream provider.
// Transitions: Closed → Open (after failThreshold consecutive failures)
//
//	Open → HalfOpen (after openTimeout expires, a single probe is let through)
//	HalfOpen → Closed (probe succeeds) or Open (probe fails)
//
// A failThreshold below 1 disables the breaker.
type CircuitBreaker struct {
	name          string
	failThreshold int
	openTimeout   time.Duration
	isFailure     func(error) bool
	now           func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a circuit breaker with the given thresholds.
func NewCircuitBreaker(name string, failThreshold int, openTimeout time.Duration, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:          name,
		failThreshold: failThreshold,
		openTimeout:   openTimeout,
		isFailure:     func(err error) bool { return err != nil },
		now:           time.Now,
		state:         StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
// If fn returns context.Canceled or context.DeadlineExceeded the caller gave up,
// and the call counts as neither a success nor a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb.failThreshold < 1 {
		return fn()
	}
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.openTimeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	if wasProbe {
		cb.probing = false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}

	if err != nil && cb.isFailure(err) {
		cb.failures++
		if wasProbe || cb.failures >= cb.failThreshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
		return
	}

	// Success or an error the provider is not to blame for.
	// A call admitted before the circuit opened can also close it.
	cb.failures = 0
	cb.probing = false
	cb.transition(StateClosed)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	log.Warn().
		Str("component", "breaker").
		Str("provider", cb.name).
		Stringer("from", cb.state).
		Stringer("to", to).
		Int("failures", cb.failures).
		Msg("circuit state changed")
	cb.state = to
}

// CurrentState returns the current state of the circuit breaker.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
