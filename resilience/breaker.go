// Package resilience guards calls to remote dependencies.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrOpen is returned without calling the guarded function while the breaker
// is open.
var ErrOpen = errors.New("circuit breaker is open")

type State int32

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before letting a probe through.
	Cooldown time.Duration

	// SuccessThreshold is the number of successful probes needed to close again.
	SuccessThreshold int

	// OnStateChange, if set, is called with the breaker lock released.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the configuration used for remote cache backends.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		SuccessThreshold: 1,
	}
}

// Breaker is a circuit breaker. While closed every call goes through; after
// MaxFailures consecutive failures it opens and rejects calls until Cooldown
// has passed, then lets one probe at a time through in the half-open state.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
	probing   bool
}

func New(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Do calls fn unless the breaker is open. Cancellation of the caller's
// context is not counted as a failure.
func (b *Breaker) Do(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	if errors.Is(err, context.Canceled) {
		b.release()
		return err
	}
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state, b.successes, b.probing = StateHalfOpen, 0, true
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		if ok {
			b.failures = 0
		} else if b.failures++; b.failures >= b.cfg.MaxFailures {
			b.openLocked()
		}
	case StateHalfOpen:
		b.probing = false
		if !ok {
			b.openLocked()
		} else if b.successes++; b.successes >= b.cfg.SuccessThreshold {
			b.closeLocked()
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
}

func (b *Breaker) closeLocked() {
	b.state = StateClosed
	b.failures, b.successes = 0, 0
	b.probing = false
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.closeLocked()
	b.mu.Unlock()
	b.notify(from, StateClosed)
}
