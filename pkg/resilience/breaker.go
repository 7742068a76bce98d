// Package resilience provides the circuit breaker protecting every external
// dependency of the answer pipeline (search, rerank, generation).
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Call when the circuit is open and no
// fallback is configured. It marks the dependency as temporarily
// unavailable; callers may retry after the breaker timeout.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Task is a protected unit of work. Operations and fallbacks share this
// shape so Call never has to distinguish the two.
type Task func(ctx context.Context) (any, error)

// Config tunes a single breaker.
type Config struct {
	FailureThreshold   int           // consecutive failures to open
	SuccessThreshold   int           // consecutive half-open successes to close
	Timeout            time.Duration // open -> half-open cooldown
	ErrorRateThreshold float64       // rolling error rate to open (0..1]
	WindowSize         int           // ring buffer size, capped at 20
}

// DefaultConfig returns the defaults used for all pipeline dependencies.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            30 * time.Second,
		ErrorRateThreshold: 0.5,
		WindowSize:         20,
	}
}

const maxWindowSize = 20

// Breaker implements the circuit breaker pattern for one named dependency.
// All state mutation happens under mu; the protected operation and its
// fallback always execute outside the lock.
type Breaker struct {
	name   string
	config Config
	logger *slog.Logger

	mu                   sync.Mutex
	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	outcomes             []bool // ring buffer of recent outcomes, true = success
	outcomeIdx           int
	outcomeCount         int
	openedAt             time.Time
	halfOpenProbe        bool
}

// NewBreaker creates a breaker for the given dependency name.
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.WindowSize <= 0 || config.WindowSize > maxWindowSize {
		config.WindowSize = maxWindowSize
	}
	return &Breaker{
		name:     name,
		config:   config,
		logger:   slog.Default().With("breaker", name),
		state:    StateClosed,
		outcomes: make([]bool, config.WindowSize),
	}
}

// Call runs operation under breaker protection. When the circuit is open
// (and the cooldown has not elapsed) the operation is never invoked: the
// fallback runs instead, or ErrCircuitOpen is returned when fallback is nil.
// The fallback is also consulted when the operation itself fails.
func (b *Breaker) Call(ctx context.Context, operation, fallback Task) (any, error) {
	allowed, probing := b.beforeCall()
	if !allowed {
		if fallback != nil {
			return fallback(ctx)
		}
		return nil, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}

	result, err := operation(ctx)
	b.afterCall(err == nil, probing)
	if err == nil {
		return result, nil
	}

	if fallback != nil {
		b.logger.Warn("operation failed, using fallback", "error", err)
		return fallback(ctx)
	}
	return nil, err
}

// beforeCall decides whether the operation may run. The second return value
// reports whether this call is the half-open trial probe.
func (b *Breaker) beforeCall() (allowed, probing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if time.Since(b.openedAt) >= b.config.Timeout {
			b.transition(StateHalfOpen)
			b.halfOpenProbe = true
			return true, true
		}
		return false, false
	case StateHalfOpen:
		// One probe in flight at a time.
		if b.halfOpenProbe {
			return false, false
		}
		b.halfOpenProbe = true
		return true, true
	}
	return false, false
}

func (b *Breaker) afterCall(success, probing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordOutcome(success)
	if probing {
		b.halfOpenProbe = false
	}

	if success {
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen && b.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
		return
	}

	b.consecutiveFailures++
	b.consecutiveSuccesses = 0
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
	case StateClosed:
		// The rate trigger only counts once the window holds a full
		// sample; otherwise a single early failure reads as 100%.
		windowFull := b.outcomeCount == len(b.outcomes)
		if b.consecutiveFailures >= b.config.FailureThreshold ||
			(windowFull && b.errorRate() >= b.config.ErrorRateThreshold) {
			b.transition(StateOpen)
		}
	}
}

// recordOutcome updates the rolling window. Every call is recorded
// regardless of state.
func (b *Breaker) recordOutcome(success bool) {
	b.outcomes[b.outcomeIdx] = success
	b.outcomeIdx = (b.outcomeIdx + 1) % len(b.outcomes)
	if b.outcomeCount < len(b.outcomes) {
		b.outcomeCount++
	}
}

func (b *Breaker) errorRate() float64 {
	if b.outcomeCount == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.outcomeCount; i++ {
		if !b.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.outcomeCount)
}

func (b *Breaker) transition(newState State) {
	oldState := b.state
	b.state = newState
	switch newState {
	case StateOpen:
		b.openedAt = time.Now()
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccesses = 0
		b.halfOpenProbe = false
	}
	b.logger.Info("state transition", "from", oldState, "to", newState)
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats is a point-in-time snapshot for operators.
type Stats struct {
	Name                 string  `json:"name"`
	State                State   `json:"state"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	ErrorRate            float64 `json:"error_rate"`
}

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:                 b.name,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		ErrorRate:            b.errorRate(),
	}
}

// Registry holds one breaker per dependency name. It is process-scoped
// state handed to the orchestrator at construction time, never a package
// singleton, so tests can run with isolated instances.
type Registry struct {
	mu       sync.Mutex
	config   Config
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share config.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.config)
	r.breakers[name] = b
	return b
}

// AllStats returns a snapshot of every registered breaker.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		stats[name] = b.Stats()
	}
	return stats
}
