// internal/poll/poll.go
// Package poll re-evaluates a predicate at a fixed cadence until it is
// satisfied, a deadline passes, or the caller cancels.
//
// The deadline is computed once, when polling starts, and never moves. The
// final sleep is truncated so no sleep runs past the deadline, and
// cancellation interrupts a sleep immediately.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidSpec is returned when a Spec violates 0 < Interval <= Timeout.
var ErrInvalidSpec = errors.New("invalid wait spec")

// Spec bounds a single polling run.
type Spec struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Validate enforces 0 < Interval <= Timeout.
func (s Spec) Validate() error {
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidSpec, s.Timeout)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %v", ErrInvalidSpec, s.Interval)
	}
	if s.Interval > s.Timeout {
		return fmt.Errorf("%w: poll interval %v exceeds timeout %v", ErrInvalidSpec, s.Interval, s.Timeout)
	}
	return nil
}

// WithTimeout returns a copy of s with the timeout replaced, clamping the
// interval so the result stays valid.
func (s Spec) WithTimeout(d time.Duration) Spec {
	s.Timeout = d
	if s.Interval > d {
		s.Interval = d
	}
	return s
}

// Status is the terminal state of a polling run.
type Status int

const (
	// Satisfied means the predicate returned a value.
	Satisfied Status = iota + 1
	// TimedOut means the deadline passed without success.
	TimedOut
	// Cancelled means the context was cancelled before success or timeout.
	Cancelled
	// Failed means the predicate returned a permanent error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Satisfied:
		return "satisfied"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome describes how a polling run ended.
type Outcome[T any] struct {
	Status   Status
	Value    T
	Attempts int
	Elapsed  time.Duration
	// LastErr is the most recent transient error seen, or the context error
	// for a Cancelled outcome.
	LastErr error
}

// Ok reports whether the run was satisfied.
func (o Outcome[T]) Ok() bool { return o.Status == Satisfied }

// Attempt is the result of one predicate evaluation.
type Attempt[T any] struct {
	value T
	ok    bool
	err   error
}

// Success reports that the condition holds, yielding v.
func Success[T any](v T) Attempt[T] { return Attempt[T]{value: v, ok: true} }

// NotYet reports that the condition does not hold yet.
func NotYet[T any]() Attempt[T] { return Attempt[T]{} }

// Fail reports an error. Transient errors (see MarkTransient) are treated like
// NotYet; any other error aborts the run.
func Fail[T any](err error) Attempt[T] { return Attempt[T]{err: err} }

// Predicate is evaluated once per polling iteration.
type Predicate[T any] func(ctx context.Context) Attempt[T]

// Poller carries the clock and logger shared by polling runs.
type Poller struct {
	clock  Clock
	logger *zap.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock, typically with a fake in tests.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// New creates a Poller. A nil logger disables logging.
func New(logger *zap.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{clock: RealClock(), logger: logger.Named("poll")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Clock returns the clock the poller measures time with.
func (p *Poller) Clock() Clock {
	if p == nil {
		return RealClock()
	}
	return p.clock
}

// Until evaluates pred immediately and then every spec.Interval until it
// succeeds, the spec's timeout elapses, or ctx is done. A permanent predicate
// error is returned as err with a Failed outcome, unless ctx was done by the
// time pred returned, in which case the outcome is Cancelled. An invalid spec is returned
// as err before pred is ever called.
func Until[T any](ctx context.Context, p *Poller, spec Spec, pred Predicate[T]) (Outcome[T], error) {
	if p == nil {
		p = New(nil)
	}
	if err := spec.Validate(); err != nil {
		return Outcome[T]{Status: Failed}, err
	}

	clock := p.clock
	start := clock.Now()
	deadline := start.Add(spec.Timeout)
	var out Outcome[T]

	finish := func(s Status) Outcome[T] {
		out.Status = s
		out.Elapsed = clock.Now().Sub(start)
		return out
	}

	for {
		if err := ctx.Err(); err != nil {
			out.LastErr = err
			return finish(Cancelled), nil
		}

		out.Attempts++
		a := pred(ctx)
		switch {
		case a.err != nil && ctx.Err() != nil:
			out.LastErr = ctx.Err()
			return finish(Cancelled), nil
		case a.err != nil && !IsTransient(a.err):
			return finish(Failed), a.err
		case a.err != nil:
			out.LastErr = a.err
		case a.ok:
			out.Value = a.value
			return finish(Satisfied), nil
		}

		now := clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			p.logger.Debug("Condition not met before deadline.",
				zap.Duration("timeout", spec.Timeout),
				zap.Int("attempts", out.Attempts),
				zap.NamedError("last_error", out.LastErr))
			return finish(TimedOut), nil
		}

		wait := spec.Interval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			out.LastErr = ctx.Err()
			return finish(Cancelled), nil
		case <-clock.After(wait):
		}
	}
}
