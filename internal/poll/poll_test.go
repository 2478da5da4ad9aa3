// internal/poll/poll_test.go
package poll_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/pageharness/internal/poll"
	"github.com/xkilldash9x/pageharness/internal/poll/polltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newFakePoller(t *testing.T) (*poll.Poller, *polltest.Clock) {
	t.Helper()
	clock := polltest.NewClock()
	return poll.New(zaptest.NewLogger(t), poll.WithClock(clock)), clock
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    poll.Spec
		wantErr bool
	}{
		{"valid", poll.Spec{Timeout: time.Second, Interval: 250 * time.Millisecond}, false},
		{"interval equals timeout", poll.Spec{Timeout: time.Second, Interval: time.Second}, false},
		{"zero timeout", poll.Spec{Timeout: 0, Interval: time.Millisecond}, true},
		{"zero interval", poll.Spec{Timeout: time.Second}, true},
		{"interval exceeds timeout", poll.Spec{Timeout: time.Second, Interval: 2 * time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, poll.ErrInvalidSpec)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	clamped := poll.Spec{Timeout: time.Second, Interval: 500 * time.Millisecond}.WithTimeout(100 * time.Millisecond)
	assert.NoError(t, clamped.Validate())
	assert.Equal(t, 100*time.Millisecond, clamped.Interval)
}

func TestUntil_InvalidSpecNeverEvaluates(t *testing.T) {
	p, _ := newFakePoller(t)
	calls := 0
	out, err := poll.Until(context.Background(), p, poll.Spec{}, func(context.Context) poll.Attempt[int] {
		calls++
		return poll.Success(1)
	})
	assert.ErrorIs(t, err, poll.ErrInvalidSpec)
	assert.Equal(t, poll.Failed, out.Status)
	assert.Zero(t, calls)
}

func TestUntil_ImmediateSuccess(t *testing.T) {
	p, clock := newFakePoller(t)
	out, err := poll.Until(context.Background(), p, poll.Spec{Timeout: 10 * time.Second, Interval: 500 * time.Millisecond},
		func(context.Context) poll.Attempt[string] { return poll.Success("ready") })

	require.NoError(t, err)
	assert.True(t, out.Ok())
	assert.Equal(t, "ready", out.Value)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, clock.Sleeps())
	assert.Zero(t, out.Elapsed)
}

func TestUntil_TimeoutBounds(t *testing.T) {
	specs := []poll.Spec{
		{Timeout: time.Second, Interval: 250 * time.Millisecond},
		{Timeout: time.Second, Interval: 300 * time.Millisecond},
		{Timeout: 10 * time.Second, Interval: 500 * time.Millisecond},
		{Timeout: 50 * time.Millisecond, Interval: 50 * time.Millisecond},
	}
	for _, spec := range specs {
		t.Run(fmt.Sprintf("%v/%v", spec.Timeout, spec.Interval), func(t *testing.T) {
			p, clock := newFakePoller(t)
			out, err := poll.Until(context.Background(), p, spec, func(context.Context) poll.Attempt[struct{}] {
				return poll.NotYet[struct{}]()
			})
			require.NoError(t, err)
			assert.Equal(t, poll.TimedOut, out.Status)
			assert.GreaterOrEqual(t, out.Elapsed, spec.Timeout)
			assert.LessOrEqual(t, out.Elapsed, spec.Timeout+spec.Interval)

			for _, s := range clock.Sleeps() {
				assert.LessOrEqual(t, s, spec.Interval, "no single sleep may exceed the interval")
			}
		})
	}
}

func TestUntil_FinalSleepIsTruncated(t *testing.T) {
	p, clock := newFakePoller(t)
	spec := poll.Spec{Timeout: time.Second, Interval: 300 * time.Millisecond}
	_, err := poll.Until(context.Background(), p, spec, func(context.Context) poll.Attempt[int] {
		return poll.NotYet[int]()
	})
	require.NoError(t, err)

	want := []time.Duration{300 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond, 100 * time.Millisecond}
	assert.Equal(t, want, clock.Sleeps())
	assert.Equal(t, time.Second, clock.Elapsed())
}

func TestUntil_Cadence(t *testing.T) {
	// Condition becomes true at 600ms; with a 250ms interval it is observed on
	// the evaluation at 750ms.
	p, clock := newFakePoller(t)
	var evaluatedAt []time.Duration
	out, err := poll.Until(context.Background(), p, poll.Spec{Timeout: 10 * time.Second, Interval: 250 * time.Millisecond},
		func(context.Context) poll.Attempt[time.Duration] {
			now := clock.Elapsed()
			evaluatedAt = append(evaluatedAt, now)
			if now >= 600*time.Millisecond {
				return poll.Success(now)
			}
			return poll.NotYet[time.Duration]()
		})

	require.NoError(t, err)
	assert.True(t, out.Ok())
	assert.Equal(t, 750*time.Millisecond, out.Value)
	assert.Equal(t, 4, out.Attempts)
	assert.Len(t, clock.Sleeps(), 3)
	assert.Equal(t, []time.Duration{0, 250 * time.Millisecond, 500 * time.Millisecond, 750 * time.Millisecond}, evaluatedAt)
}

func TestUntil_TransientErrorsKeepPolling(t *testing.T) {
	p, _ := newFakePoller(t)
	calls := 0
	staleErr := errors.New("stale node")
	out, err := poll.Until(context.Background(), p, poll.Spec{Timeout: time.Second, Interval: 100 * time.Millisecond},
		func(context.Context) poll.Attempt[int] {
			calls++
			if calls < 3 {
				return poll.Fail[int](poll.MarkTransient(staleErr))
			}
			return poll.Success(calls)
		})

	require.NoError(t, err)
	assert.True(t, out.Ok())
	assert.Equal(t, 3, out.Value)
	assert.ErrorIs(t, out.LastErr, staleErr)
}

func TestUntil_PermanentErrorAborts(t *testing.T) {
	p, clock := newFakePoller(t)
	bad := errors.New("malformed selector")
	calls := 0
	out, err := poll.Until(context.Background(), p, poll.Spec{Timeout: time.Second, Interval: 100 * time.Millisecond},
		func(context.Context) poll.Attempt[int] {
			calls++
			return poll.Fail[int](bad)
		})

	assert.ErrorIs(t, err, bad)
	assert.Equal(t, poll.Failed, out.Status)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.Sleeps())
}

func TestUntil_CancelledDuringPolling(t *testing.T) {
	p, clock := newFakePoller(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock.OnAdvance(func(now time.Time) {
		if now.Sub(polltest.Epoch) >= 50*time.Millisecond {
			cancel()
		}
	})

	out, err := poll.Until(ctx, p, poll.Spec{Timeout: 10 * time.Second, Interval: 50 * time.Millisecond},
		func(context.Context) poll.Attempt[int] { return poll.NotYet[int]() })

	require.NoError(t, err)
	assert.Equal(t, poll.Cancelled, out.Status)
	assert.ErrorIs(t, out.LastErr, context.Canceled)
	assert.LessOrEqual(t, clock.Elapsed(), 100*time.Millisecond)
}

func TestUntil_CancelledDuringEvaluation(t *testing.T) {
	p, clock := newFakePoller(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	out, err := poll.Until(ctx, p, poll.Spec{Timeout: 10 * time.Second, Interval: 250 * time.Millisecond},
		func(ctx context.Context) poll.Attempt[int] {
			calls++
			if calls == 3 {
				cancel()
				return poll.Fail[int](ctx.Err())
			}
			return poll.NotYet[int]()
		})

	require.NoError(t, err, "a driver error caused by cancellation is not a permanent failure")
	assert.Equal(t, poll.Cancelled, out.Status)
	assert.ErrorIs(t, out.LastErr, context.Canceled)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 500*time.Millisecond, clock.Elapsed())
}

func TestUntil_CancelInterruptsRealSleep(t *testing.T) {
	p := poll.New(zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	out, err := poll.Until(ctx, p, poll.Spec{Timeout: 10 * time.Second, Interval: 5 * time.Second},
		func(context.Context) poll.Attempt[int] { return poll.NotYet[int]() })

	require.NoError(t, err)
	assert.Equal(t, poll.Cancelled, out.Status)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must interrupt the sleep")
}

func TestUntil_AlreadyCancelled(t *testing.T) {
	p, _ := newFakePoller(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	out, err := poll.Until(ctx, p, poll.Spec{Timeout: time.Second, Interval: 100 * time.Millisecond},
		func(context.Context) poll.Attempt[int] {
			calls++
			return poll.Success(1)
		})
	require.NoError(t, err)
	assert.Equal(t, poll.Cancelled, out.Status)
	assert.Zero(t, calls)
}

func TestMarkTransient(t *testing.T) {
	base := errors.New("boom")
	assert.Nil(t, poll.MarkTransient(nil))
	assert.False(t, poll.IsTransient(base))

	marked := poll.MarkTransient(base)
	assert.True(t, poll.IsTransient(marked))
	assert.ErrorIs(t, marked, base)
	assert.True(t, poll.IsTransient(fmt.Errorf("wrapped: %w", marked)))
	assert.Same(t, marked, poll.MarkTransient(marked))
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "satisfied", poll.Satisfied.String())
	assert.Equal(t, "timed_out", poll.TimedOut.String())
	assert.Equal(t, "cancelled", poll.Cancelled.String())
	assert.Equal(t, "failed", poll.Failed.String())
	assert.Equal(t, "unknown", poll.Status(0).String())
}
