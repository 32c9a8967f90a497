// Package invoke runs an outbound operation under a backoff policy.
package invoke

import (
	"context"
	"errors"
	"time"

	"github.com/krishanraja/mindmaker-sub000/internal/backoff"
	"github.com/krishanraja/mindmaker-sub000/internal/fault"
)

// DefaultAttemptTimeout bounds a single attempt when no option overrides it.
const DefaultAttemptTimeout = 30 * time.Second

// Operation is one retryable unit of work. It must honor ctx.
type Operation[T any] func(ctx context.Context) (T, error)

// Result is the value of the successful attempt plus bookkeeping.
type Result[T any] struct {
	Value    T
	Attempts int
	Retried  bool
}

// Observer is told about every attempt. Successful attempts arrive with a nil
// Err and Terminal set.
type Observer interface {
	ObserveAttempt(op string, out backoff.Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(op string, out backoff.Outcome)

func (f ObserverFunc) ObserveAttempt(op string, out backoff.Outcome) { f(op, out) }

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type settings struct {
	name      string
	timeout   time.Duration
	terminal  map[fault.Kind]bool
	observers []Observer
	sleep     Sleeper
}

// Option customizes a single Do call.
type Option func(*settings)

// Named labels the operation in observer callbacks and wrapped errors.
func Named(name string) Option {
	return func(s *settings) { s.name = name }
}

// WithAttemptTimeout bounds each attempt. Zero or negative disables the bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithTerminalKinds stops retrying on kinds the policy would otherwise retry.
// Call sites that pay per request use it to surface rate limiting immediately.
func WithTerminalKinds(kinds ...fault.Kind) Option {
	return func(s *settings) {
		if s.terminal == nil {
			s.terminal = make(map[fault.Kind]bool, len(kinds))
		}
		for _, k := range kinds {
			s.terminal[k] = true
		}
	}
}

// WithObserver adds an attempt observer. Nil observers are ignored.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithSleeper replaces the timer-based wait between attempts.
func WithSleeper(fn Sleeper) Option {
	return func(s *settings) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// Do runs op until it succeeds, fails terminally, or ctx is done.
//
// Attempts are counted from 0 and at most p.MaxRetries+1 run. Cancellation of
// ctx returns ctx.Err() without another attempt.
func Do[T any](ctx context.Context, p backoff.Policy, op Operation[T], opts ...Option) (Result[T], error) {
	s := settings{name: "invoke", timeout: DefaultAttemptTimeout, sleep: Sleep}
	for _, o := range opts {
		o(&s)
	}

	var res Result[T]
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt + 1

		v, err := runAttempt(ctx, s.timeout, op)
		if err == nil {
			res.Value = v
			res.Retried = attempt > 0
			s.observe(backoff.Outcome{Attempt: attempt, Terminal: true})
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		err = attemptError(s.name, err)

		out := p.Decide(attempt, err)
		if !out.Terminal && s.terminal[fault.KindOf(err)] {
			out.Terminal = true
			out.Delay = 0
		}
		s.observe(out)
		if out.Terminal {
			return res, err
		}
		if err := s.sleep(ctx, out.Delay); err != nil {
			return res, err
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

// attemptError tags an untagged per-attempt deadline as transient.
func attemptError(op string, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.New(fault.KindTransient, op, err)
	}
	return err
}

func (s settings) observe(out backoff.Outcome) {
	for _, o := range s.observers {
		o.ObserveAttempt(s.name, out)
	}
}

// Sleep waits for d unless ctx is done first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
