// Package waiter implements the bounded poll loop shared by every wait in the
// supervisor: startup confirmation, serving-state waits and file waits.
//
// The contract is the one test fixtures have always relied on: a description,
// a shrinking budget and a fixed sleep interval. Each Step subtracts one
// interval from the budget; once the budget is used up the step fails with a
// TimeoutError naming the description, otherwise it sleeps for the interval.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// ErrTimeout is matched by every *TimeoutError.
var ErrTimeout = errors.New("timeout waiting for condition")

// DefaultFileInterval is the sleep between checks in WaitForFiles.
const DefaultFileInterval = time.Second

// TimeoutError reports an exhausted budget. Observed is the last value the
// caller reported while waiting, if any.
type TimeoutError struct {
	Description string
	Observed    string
}

func (e *TimeoutError) Error() string {
	if e.Observed == "" {
		return fmt.Sprintf("timeout waiting for condition '%s'", e.Description)
	}
	return fmt.Sprintf("timeout waiting for condition '%s' (last observed: %s)", e.Description, e.Observed)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// Result is what a Check reports for one iteration.
type Result struct {
	Done     bool
	Observed string
}

// Check evaluates the awaited condition once. A non-nil error is fatal and
// ends the wait immediately.
type Check func(ctx context.Context) (Result, error)

// Waiter runs bounded waits. The zero value sleeps with time.Sleep and logs
// to slog.Default().
type Waiter struct {
	// Sleep replaces time.Sleep, mainly for tests.
	Sleep func(time.Duration)

	Logger *slog.Logger

	// FileInterval overrides DefaultFileInterval in WaitForFiles.
	FileInterval time.Duration
}

func (w Waiter) sleep(d time.Duration) {
	if w.Sleep != nil {
		w.Sleep(d)
		return
	}
	time.Sleep(d)
}

func (w Waiter) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Step consumes one interval of the remaining budget. It returns the new
// remainder after sleeping, or a *TimeoutError without sleeping when the
// budget is exhausted.
func (w Waiter) Step(desc string, remaining, interval time.Duration) (time.Duration, error) {
	remaining -= interval
	if remaining <= 0 {
		return remaining, &TimeoutError{Description: desc}
	}
	w.logger().Debug("waiting for condition", "condition", desc, "sleep", interval)
	w.sleep(interval)
	return remaining, nil
}

// Step runs a single step with the default Waiter.
func Step(desc string, remaining, interval time.Duration) (time.Duration, error) {
	return Waiter{}.Step(desc, remaining, interval)
}

// Until calls check until it reports Done, returns an error, or the budget
// runs out. The context is consulted between steps.
func (w Waiter) Until(ctx context.Context, desc string, budget, interval time.Duration, check Check) error {
	if interval <= 0 {
		return fmt.Errorf("wait %q: interval must be positive", desc)
	}
	remaining := budget
	var observed string
	for {
		res, err := check(ctx)
		if err != nil {
			return err
		}
		if res.Observed != "" {
			observed = res.Observed
		}
		if res.Done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("wait %q: %w", desc, err)
		}
		remaining, err = w.Step(desc, remaining, interval)
		if err != nil {
			var te *TimeoutError
			if errors.As(err, &te) {
				te.Observed = observed
			}
			return err
		}
	}
}

// Until runs a wait with the default Waiter.
func Until(ctx context.Context, desc string, budget, interval time.Duration, check Check) error {
	return Waiter{}.Until(ctx, desc, budget, interval, check)
}

// WaitForFiles waits until every path exists, e.g. the unix sockets a
// database helper creates once it is ready.
func (w Waiter) WaitForFiles(ctx context.Context, budget time.Duration, paths ...string) error {
	desc := "waiting for files: " + strings.Join(paths, " ")
	interval := DefaultFileInterval
	if w.FileInterval > 0 {
		interval = w.FileInterval
	}
	return w.Until(ctx, desc, budget, interval, func(context.Context) (Result, error) {
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				return Result{Observed: "missing " + p}, nil
			}
		}
		return Result{Done: true}, nil
	})
}
