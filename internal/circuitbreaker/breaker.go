// Package circuitbreaker stops callers from hammering an upstream that keeps
// failing. Each key moves closed -> open -> half-open independently.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do while a key's circuit is open.
var ErrOpen = errors.New("circuit open: upstream failing, retry later")

// State is a circuit state.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected with ErrOpen
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
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

var transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "safetransfer",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitionsTotal)
}

// Config tunes a Breaker. Zero fields take defaults.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// Cooldown is how long the circuit stays open before a probe.
	Cooldown time.Duration
	// IsFailure decides whether an error returned through Do counts against
	// the key. Defaults to every non-nil error.
	IsFailure func(error) bool
	// OnTransition, if set, is called synchronously under no lock.
	OnTransition func(key string, from, to State)
}

// DefaultConfig opens after 5 failures and probes after 30s.
func DefaultConfig() Config {
	return Config{Threshold: 5, Cooldown: 30 * time.Second}
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks circuits per key.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

// New creates a Breaker.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{cfg: cfg, now: time.Now, circuits: make(map[string]*circuit)}
}

// Do runs fn unless key's circuit is open, and records the outcome.
func (b *Breaker) Do(key string, fn func() error) error {
	if !b.allow(key) {
		return ErrOpen
	}
	err := fn()
	if b.cfg.IsFailure(err) {
		b.recordFailure(key)
	} else {
		b.recordSuccess(key)
	}
	return err
}

// State returns key's current state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

func (b *Breaker) allow(key string) bool {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return true
	}
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return false
		}
		fire := b.setState(c, key, StateHalfOpen)
		b.mu.Unlock()
		fire()
		return true
	case StateHalfOpen:
		b.mu.Unlock()
		return false
	default:
		b.mu.Unlock()
		return true
	}
}

func (b *Breaker) recordSuccess(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	c.failures = 0
	fire := b.setState(c, key, StateClosed)
	b.mu.Unlock()
	fire()
}

func (b *Breaker) recordFailure(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	fire := func() {}
	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.cfg.Threshold) {
		c.openedAt = b.now()
		fire = b.setState(c, key, StateOpen)
	}
	b.mu.Unlock()
	fire()
}

// setState must be called with b.mu held. The returned func runs the
// transition callback and must be called after unlocking.
func (b *Breaker) setState(c *circuit, key string, to State) func() {
	from := c.state
	if from == to {
		return func() {}
	}
	c.state = to
	transitionsTotal.WithLabelValues(key, from.String(), to.String()).Inc()
	if fn := b.cfg.OnTransition; fn != nil {
		return func() { fn(key, from, to) }
	}
	return func() {}
}
