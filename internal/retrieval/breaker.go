package retrieval

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// StateClosed allows requests through normally.
	StateClosed BreakerState = iota
	// StateOpen rejects requests immediately.
	StateOpen
	// StateHalfOpen allows a single probe request to test recovery.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before allowing a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is a three-state circuit breaker guarding the retrieval backend.
//
// Closed passes every request. Open rejects everything until the cooldown
// elapses, at which point exactly one caller is admitted as a probe
// (half-open). The probe's outcome decides the next state: success closes
// the circuit, failure reopens it and restarts the cooldown.
//
// Safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	config BreakerConfig
	now    func() time.Time

	state           BreakerState
	failures        int
	openedAt        time.Time
	probeInFlight   bool
	lastStateChange time.Time
}

// NewBreaker creates a closed circuit breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	now := time.Now
	return &Breaker{
		config:          config,
		now:             now,
		state:           StateClosed,
		lastStateChange: now(),
	}
}

// Allow reports whether a request may proceed. When the cooldown has
// elapsed it transitions open to half-open and admits the caller as the
// probe; concurrent callers are rejected until the probe resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.config.Cooldown {
			b.transition(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false

	case StateHalfOpen:
		// One probe at a time.
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful request. A successful probe closes
// the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.transition(StateClosed)
	}
}

// RecordFailure records a failed request. Reaching the threshold opens
// the circuit; a failed probe reopens it and restarts the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// Release discards an admitted request whose outcome says nothing about
// backend health, such as the caller canceling mid-flight. In half-open
// the probe slot reopens for the next caller; the state does not change.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with b.mu held.
func (b *Breaker) transition(next BreakerState) {
	b.state = next
	b.lastStateChange = b.now()
	b.probeInFlight = false
	if next == StateClosed {
		b.failures = 0
	}
}
