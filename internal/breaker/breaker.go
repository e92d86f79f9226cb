// Package breaker guards calls to external APIs with a circuit breaker,
// preventing cascade failures when the catalog, store, or generation
// backends go down.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's current position.
type State string

// Breaker states.
const (
	// StateClosed: normal operation, calls pass through.
	StateClosed State = "closed"
	// StateOpen: the backend is considered down, calls are rejected.
	StateOpen State = "open"
	// StateHalfOpen: probing whether the backend recovered.
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned when the breaker rejects a call without attempting
// it.
var ErrOpen = errors.New("circuit breaker is open")

// Stats is a snapshot of a breaker's counters.
type Stats struct {
	State              State
	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64
	RejectedRequests   int64
}

// Breaker trips open after Options.FailureThreshold consecutive failures
// and probes recovery after Options.RecoveryTimeout.
type Breaker struct {
	name   string
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	stats       Stats
}

// Options configures a breaker.
type Options struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Defaults to 5.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before allowing
	// a probe. Defaults to 60s.
	RecoveryTimeout time.Duration
}

// New creates a closed breaker.
func New(name string, opts Options, logger *slog.Logger) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 60 * time.Second
	}
	return &Breaker{
		name:   name,
		opts:   opts,
		logger: logger.With("component", "circuit_breaker", "breaker", name),
		state:  StateClosed,
	}
}

// Call runs fn through the breaker. When open and not yet due for a
// recovery probe, the call is rejected with ErrOpen without running fn.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	b.stats.TotalRequests++

	if b.state == StateOpen {
		if time.Since(b.lastFailure) >= b.opts.RecoveryTimeout {
			b.transition(StateHalfOpen)
		} else {
			b.stats.RejectedRequests++
			b.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrOpen, b.name)
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.stats.FailedRequests++
		b.onFailure()
		return err
	}
	b.stats.SuccessfulRequests++
	b.onSuccess()
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.State = b.state
	return s
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHalfOpen:
		// Probe failed; back to open for another recovery window.
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.opts.FailureThreshold {
			b.transition(StateOpen)
		}
	}
}

// transition must be called with the mutex held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	b.logger.Warn("circuit breaker state change", "from", string(from), "to", string(to))
}

// Registry hands out named breakers so every caller hitting the same
// backend shares one state machine.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	logger   *slog.Logger
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), logger: logger}
}

// Get returns the breaker for name, creating it with opts on first use.
// Later calls for the same name ignore opts.
func (r *Registry) Get(name string, opts Options) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, opts, r.logger)
	r.breakers[name] = b
	return b
}

// Snapshots returns the stats of every registered breaker by name.
func (r *Registry) Snapshots() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
