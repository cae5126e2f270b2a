package waiter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(d time.Duration) { r.calls = append(r.calls, d) }

func TestStepExhaustsAfterCeilBudgetOverInterval(t *testing.T) {
	cases := []struct {
		budget, interval time.Duration
		want             int
	}{
		{time.Second, 300 * time.Millisecond, 4},
		{time.Second, 250 * time.Millisecond, 4},
		{time.Second, time.Second, 1},
		{60 * time.Second, 300 * time.Millisecond, 200},
		{100 * time.Millisecond, time.Second, 1},
	}
	for _, tc := range cases {
		rec := &recordingSleep{}
		w := Waiter{Sleep: rec.sleep}
		remaining := tc.budget
		iterations := 0
		var err error
		for err == nil {
			iterations++
			remaining, err = w.Step("cond", remaining, tc.interval)
		}
		assert.Equal(t, tc.want, iterations, "budget=%s interval=%s", tc.budget, tc.interval)
		assert.Len(t, rec.calls, tc.want-1)
		var te *TimeoutError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, "cond", te.Description)
		assert.ErrorIs(t, err, ErrTimeout)
	}
}

func TestUntilStopsWhenConditionHolds(t *testing.T) {
	rec := &recordingSleep{}
	w := Waiter{Sleep: rec.sleep}
	polls := 0
	err := w.Until(context.Background(), "serving", time.Minute, 300*time.Millisecond, func(context.Context) (Result, error) {
		polls++
		return Result{Done: polls == 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, rec.calls)
}

func TestUntilTimeoutKeepsDescriptionAndLastObserved(t *testing.T) {
	w := Waiter{Sleep: func(time.Duration) {}}
	err := w.Until(context.Background(), "waiting for state SERVING", time.Second, 100*time.Millisecond,
		func(context.Context) (Result, error) {
			return Result{Observed: "NOT_SERVING"}, nil
		})
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "waiting for state SERVING", te.Description)
	assert.Equal(t, "NOT_SERVING", te.Observed)
	assert.Contains(t, err.Error(), "last observed: NOT_SERVING")
}

func TestUntilFatalErrorAbortsWithoutSleeping(t *testing.T) {
	rec := &recordingSleep{}
	w := Waiter{Sleep: rec.sleep}
	boom := errors.New("process died")
	err := w.Until(context.Background(), "x", time.Minute, time.Second, func(context.Context) (Result, error) {
		return Result{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rec.calls)
}

func TestUntilHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Waiter{Sleep: func(time.Duration) {}}.Until(ctx, "x", time.Minute, time.Second,
		func(context.Context) (Result, error) { return Result{}, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUntilRejectsNonPositiveInterval(t *testing.T) {
	err := Until(context.Background(), "x", time.Second, 0, func(context.Context) (Result, error) {
		return Result{}, nil
	})
	assert.Error(t, err)
}

func TestWaitForFiles(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "mysql.sock")
	ctl := filepath.Join(dir, "mysqlctl.sock")
	require.NoError(t, os.WriteFile(sock, nil, 0o600))

	sleeps := 0
	w := Waiter{FileInterval: 10 * time.Millisecond, Sleep: func(time.Duration) {
		sleeps++
		if sleeps == 2 {
			_ = os.WriteFile(ctl, nil, 0o600)
		}
	}}
	require.NoError(t, w.WaitForFiles(context.Background(), time.Second, sock, ctl))
	assert.Equal(t, 2, sleeps)

	err := w.WaitForFiles(context.Background(), 30*time.Millisecond, filepath.Join(dir, "never"))
	assert.ErrorIs(t, err, ErrTimeout)
}
