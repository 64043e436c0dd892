package retry

import (
	"math"
	"math/rand"
	"time"
)

// State is the position of a Backoff in its retry lifecycle.
type State int

const (
	// StateReady means the next attempt may start.
	StateReady State = iota
	// StateRunning means an attempt has started and its outcome is pending.
	StateRunning
	// StateWaiting means the last attempt failed and a retry is scheduled.
	StateWaiting
	// StateSucceeded is terminal: the last attempt succeeded.
	StateSucceeded
	// StateAborted is terminal: the last failure was not retryable.
	StateAborted
	// StateExhausted is terminal: every allowed attempt failed.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateSucceeded:
		return "succeeded"
	case StateAborted:
		return "aborted"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateAborted || s == StateExhausted
}

// Decision is the outcome of recording an attempt.
type Decision struct {
	Retry   bool
	Delay   time.Duration // wait before the next attempt when Retry is true
	Attempt int           // 1-based number of the attempt that was recorded
	State   State
}

// Backoff is a bounded retry state machine. It does not sleep or spawn
// goroutines; callers decide how to wait for Decision.Delay.
// A Backoff is not safe for concurrent use.
type Backoff struct {
	cfg     Config
	attempt int
	state   State
	jitter  func(max time.Duration) time.Duration
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithJitter replaces the random jitter source. fn receives Config.MaxJitter
// and must return a value in [0, max].
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(b *Backoff) {
		if fn != nil {
			b.jitter = fn
		}
	}
}

// NewBackoff creates a Backoff in StateReady.
func NewBackoff(cfg Config, opts ...Option) *Backoff {
	b := &Backoff{
		cfg:    cfg.withDefaults(),
		state:  StateReady,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Begin starts the next attempt and returns its 1-based number.
// It returns false once the machine is terminal.
func (b *Backoff) Begin() (int, bool) {
	if b.state.Terminal() || b.state == StateRunning {
		return b.attempt, false
	}
	b.attempt++
	b.state = StateRunning
	return b.attempt, true
}

// Record stores the outcome of the running attempt. A nil err ends the machine
// successfully; a non-nil err is retried only when retryable is true and
// attempts remain.
func (b *Backoff) Record(err error, retryable bool) Decision {
	d := Decision{Attempt: b.attempt}

	switch {
	case err == nil:
		b.state = StateSucceeded
	case !retryable:
		b.state = StateAborted
	case b.attempt >= b.cfg.MaxAttempts:
		b.state = StateExhausted
	default:
		b.state = StateWaiting
		d.Retry = true
		d.Delay = b.DelayFor(b.attempt)
	}

	d.State = b.state
	if d.Retry {
		b.state = StateReady
	}
	return d
}

// DelayFor returns the wait after failed attempt n:
// BaseDelay * Multiplier^(n-1), capped at MaxDelay, plus jitter in [0, MaxJitter].
func (b *Backoff) DelayFor(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := float64(b.cfg.BaseDelay) * math.Pow(b.cfg.Multiplier, float64(n-1))
	if b.cfg.MaxDelay > 0 && delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}
	if b.cfg.MaxJitter > 0 {
		delay += float64(b.jitter(b.cfg.MaxJitter))
	}
	return time.Duration(delay)
}

// Attempt returns the number of attempts started so far.
func (b *Backoff) Attempt() int { return b.attempt }

// State returns the current state.
func (b *Backoff) State() State { return b.state }

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max) + 1))
}
