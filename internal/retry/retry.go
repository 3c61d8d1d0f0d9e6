// Package retry runs a remote operation with a bounded number of attempts and
// exponential backoff between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	maxShift = 30
)

// ErrCanceled is returned when the context ends before the operation succeeds.
var ErrCanceled = errors.New("retry canceled")

// State is a step of the retry state machine.
type State int

const (
	StateAttempting State = iota
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Attempt describes one transition. Number is 1-based. For StateAttempting,
// Number is the attempt about to run, Delay the wait before it and Err the
// failure of the previous one.
type Attempt struct {
	Number int
	State  State
	Delay  time.Duration
	Err    error
}

// RemoteOperationFailedError is returned once no attempt is left. It wraps the
// error of the last attempt only.
type RemoteOperationFailedError struct {
	Attempts int
	Err      error
}

func (e *RemoteOperationFailedError) Error() string {
	return fmt.Sprintf("remote operation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *RemoteOperationFailedError) Unwrap() error {
	return e.Err
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type config struct {
	maxAttempts int
	baseDelay   time.Duration
	retryIf     func(error) bool
	observer    func(Attempt)
	sleep       Sleeper
}

type Option func(*config)

// WithMaxAttempts sets the attempt ceiling. Values below one mean a single attempt.
func WithMaxAttempts(n int) Option {
	return func(c *config) { c.maxAttempts = n }
}

// WithBaseDelay sets the delay before the second attempt. Later delays double.
func WithBaseDelay(d time.Duration) Option {
	return func(c *config) { c.baseDelay = d }
}

// WithRetryIf stops retrying as soon as fn returns false for an error.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) { c.retryIf = fn }
}

// WithObserver is called after every transition.
func WithObserver(fn func(Attempt)) Option {
	return func(c *config) { c.observer = fn }
}

func WithSleeper(s Sleeper) Option {
	return func(c *config) { c.sleep = s }
}

// Do calls op until it succeeds or the attempts run out. The delay before
// attempt i+1 is 2^(i-1) * base delay: 1s, 2s, 4s with the defaults.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	cfg := config{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       timerSleep,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAttempts < 1 {
		cfg.maxAttempts = 1
	}

	var zero T
	current := Attempt{Number: 1, State: StateAttempting}
	for {
		if err := ctx.Err(); err != nil {
			return zero, canceled(err)
		}

		v, err := op(ctx)
		current = transition(current, err, cfg)
		if cfg.observer != nil {
			cfg.observer(current)
		}

		switch current.State {
		case StateSucceeded:
			return v, nil
		case StateFailed:
			return zero, &RemoteOperationFailedError{Attempts: current.Number, Err: current.Err}
		}

		if err := cfg.sleep(ctx, current.Delay); err != nil {
			return zero, canceled(err)
		}
	}
}

func transition(cur Attempt, err error, cfg config) Attempt {
	if err == nil {
		return Attempt{Number: cur.Number, State: StateSucceeded}
	}
	if cur.Number >= cfg.maxAttempts || (cfg.retryIf != nil && !cfg.retryIf(err)) {
		return Attempt{Number: cur.Number, State: StateFailed, Err: err}
	}
	return Attempt{
		Number: cur.Number + 1,
		State:  StateAttempting,
		Delay:  Backoff(cfg.baseDelay, cur.Number-1),
		Err:    err,
	}
}

// Backoff returns 2^index * base.
func Backoff(base time.Duration, index int) time.Duration {
	if index < 0 {
		index = 0
	}
	if index > maxShift {
		index = maxShift
	}
	return base * time.Duration(1<<uint(index))
}

func canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

func timerSleep(ctx context.Context, d time.Duration) error {
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
