// Package registry counts the managed processes that are currently running
// so a test run can prove it tore down everything it started.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/fixturectl/internal/metrics"
)

// ErrLeak is matched by every *LeakError.
var ErrLeak = errors.New("managed processes leaked")

// LeakError is returned by Check when processes are still running.
type LeakError struct {
	Test    string
	Running int
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("test %s is not killing all its processes: %d still running", e.Test, e.Running)
}

func (e *LeakError) Is(target error) bool { return target == ErrLeak }

// Registry is a concurrency-safe running-process counter.
type Registry struct {
	mu      sync.Mutex
	running int
	logger  *slog.Logger
}

// New returns an empty registry. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Inc records a successful spawn.
func (r *Registry) Inc(name string) {
	r.mu.Lock()
	r.running++
	n := r.running
	r.mu.Unlock()
	metrics.SetRunning(n)
	r.logger.Debug("process registered", "name", name, "running", n)
}

// Dec records a confirmed termination. Going below zero means a process was
// released twice, which is a bug in the caller.
func (r *Registry) Dec(name string) {
	r.mu.Lock()
	if r.running == 0 {
		r.mu.Unlock()
		panic(fmt.Sprintf("registry: release of %q without a matching spawn", name))
	}
	r.running--
	n := r.running
	r.mu.Unlock()
	metrics.SetRunning(n)
	r.logger.Debug("process released", "name", name, "running", n)
}

// Running returns the current count.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Check fails with a *LeakError naming testName when anything is running.
func (r *Registry) Check(testName string) error {
	if n := r.Running(); n > 0 {
		r.logger.Error("leaked processes", "test", testName, "running", n)
		return &LeakError{Test: testName, Running: n}
	}
	return nil
}
