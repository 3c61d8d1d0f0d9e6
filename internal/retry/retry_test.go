package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeSleeper struct {
	delays []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func TestDo_AlwaysFails(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	var last error

	_, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		last = fmt.Errorf("boom %d", calls)
		return "", last
	}, WithSleeper(s.sleep))

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, last) {
		t.Fatalf("error %v does not wrap last attempt error %v", err, last)
	}
	var failed *RemoteOperationFailedError
	if !errors.As(err, &failed) || failed.Attempts != 3 {
		t.Fatalf("expected RemoteOperationFailedError with 3 attempts, got %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(s.delays) != len(want) || s.delays[0] != want[0] || s.delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
}

func TestDo_SucceedsOnSecondCall(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0

	got, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, WithSleeper(s.sleep))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 2 {
		t.Fatalf("got %d after %d calls", got, calls)
	}
	if len(s.delays) != 1 || s.delays[0] != time.Second {
		t.Fatalf("delays = %v, want [1s]", s.delays)
	}
}

func TestDo_ImmediateSuccess(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0

	got, err := Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	}, WithSleeper(s.sleep))

	if err != nil || got != "ok" || calls != 1 {
		t.Fatalf("got %q, %v after %d calls", got, err, calls)
	}
	if len(s.delays) != 0 {
		t.Fatalf("unexpected delays %v", s.delays)
	}
}

func TestDo_MaxAttempts(t *testing.T) {
	tests := []struct {
		max       int
		wantCalls int
	}{
		{-1, 1},
		{0, 1},
		{1, 1},
		{4, 4},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("max=%d", tt.max), func(t *testing.T) {
			s := &fakeSleeper{}
			calls := 0
			_, err := Do(context.Background(), func(ctx context.Context) (struct{}, error) {
				calls++
				return struct{}{}, errors.New("nope")
			}, WithMaxAttempts(tt.max), WithSleeper(s.sleep))

			if err == nil {
				t.Fatal("expected error")
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if len(s.delays) != tt.wantCalls-1 {
				t.Fatalf("delays = %v", s.delays)
			}
		})
	}
}

func TestDo_CanceledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	}, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	var failed *RemoteOperationFailedError
	if errors.As(err, &failed) {
		t.Fatal("cancellation must not be reported as exhaustion")
	}
}

func TestDo_CanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, func(ctx context.Context) (int, error) {
		t.Fatal("operation should not run")
		return 0, nil
	})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
}

func TestDo_RetryIf(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, permanent
	}, WithRetryIf(func(err error) bool { return !errors.Is(err, permanent) }),
		WithSleeper((&fakeSleeper{}).sleep))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestDo_Observer(t *testing.T) {
	var seen []Attempt
	calls := 0

	_, _ = Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("again")
		}
		return 1, nil
	}, WithObserver(func(a Attempt) { seen = append(seen, a) }),
		WithSleeper((&fakeSleeper{}).sleep))

	want := []struct {
		n     int
		state State
		delay time.Duration
	}{
		{2, StateAttempting, time.Second},
		{3, StateAttempting, 2 * time.Second},
		{3, StateSucceeded, 0},
	}
	if len(seen) != len(want) {
		t.Fatalf("observed %d transitions, want %d: %+v", len(seen), len(want), seen)
	}
	for i, w := range want {
		if seen[i].Number != w.n || seen[i].State != w.state || seen[i].Delay != w.delay {
			t.Errorf("transition %d = %+v, want %+v", i, seen[i], w)
		}
	}
}

func TestDo_RealTimer(t *testing.T) {
	start := time.Now()
	calls := 0

	_, err := Do(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	}, WithBaseDelay(10*time.Millisecond))

	elapsed := time.Since(start)
	if err == nil || calls != 3 {
		t.Fatalf("calls = %d, err = %v", calls, err)
	}
	if elapsed < 30*time.Millisecond {
		t.Fatalf("elapsed %v, want at least 30ms", elapsed)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		index int
		want  time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(time.Second, tt.index); got != tt.want {
			t.Errorf("Backoff(1s, %d) = %v, want %v", tt.index, got, tt.want)
		}
	}
}
