package retry

import (
	"fmt"
	"sync"
	"time"

	ncerr "rexd/internal/errors"
)

// State is where a Breaker stands.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen refuses calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets one trial call through at a time.
	StateHalfOpen
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

const (
	defaultThreshold = 5
	defaultCooldown  = 30 * time.Second
)

// BreakerConfig configures a [Breaker].  Zero values take defaults.
type BreakerConfig struct {
	// Threshold is how many counted failures in a row open the
	// circuit (default 5).
	Threshold int
	// Cooldown is how long the circuit stays open before a trial call
	// is let through (default 30s).
	Cooldown time.Duration
	// Counts picks the errors that count as failures.  Others pass
	// through to the caller and leave the breaker as it was.  Nil
	// counts every error.
	Counts func(error) bool
	// OnStateChange runs on every transition, under the breaker's
	// lock.
	OnStateChange func(from, to State)
	// Clock replaces time.Now.
	Clock func() time.Time
}

// SpawnBreaker is the policy guarding process creation.  Only a host
// that is out of processes, descriptors or memory trips it: a client
// sending a broken executable must not lock everyone else out.  After
// threshold such failures in a row spawning pauses for cooldown, and
// the first start that works afterwards closes the circuit.
func SpawnBreaker(threshold int, cooldown time.Duration) BreakerConfig {
	return BreakerConfig{
		Threshold: threshold,
		Cooldown:  cooldown,
		Counts:    ncerr.IsResourceExhausted,
	}
}

// Breaker stops calling an operation that keeps failing.  It is safe
// for concurrent use.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	streak   int // counted failures in a row
	openedAt time.Time
	trial    bool // a half-open call is in flight
}

// NewBreaker returns a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return err != nil }
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Do calls fn unless the circuit is open, or half-open with a trial
// already running.  A refused call returns an error matching
// ErrCircuitOpen and fn is not called.  Otherwise fn's error is
// returned unchanged.
func (b *Breaker) Do(fn func() error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.settle(err, trial)
	return err
}

// State returns the current state.  An open circuit whose cooldown has
// run out still reports open until the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Streak returns the number of counted failures in a row.
func (b *Breaker) Streak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak
}

// Reset closes the circuit and forgets the streak.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streak = 0
	b.trial = false
	b.moveTo(StateClosed)
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		wait := b.cfg.Cooldown - b.cfg.Clock().Sub(b.openedAt)
		if wait > 0 {
			return false, fmt.Errorf("%w after %d failures, retry in %v",
				ncerr.ErrCircuitOpen, b.streak, wait.Round(time.Millisecond))
		}
		b.moveTo(StateHalfOpen)
	case StateHalfOpen:
		if b.trial {
			return false, fmt.Errorf("%w: trial in progress", ncerr.ErrCircuitOpen)
		}
	default:
		return false, nil
	}
	b.trial = true
	return true, nil
}

func (b *Breaker) settle(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}

	switch {
	case err == nil:
		b.streak = 0
		b.moveTo(StateClosed)
	case b.cfg.Counts(err):
		b.streak++
		if trial || b.streak >= b.cfg.Threshold {
			b.openedAt = b.cfg.Clock()
			b.moveTo(StateOpen)
		}
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
