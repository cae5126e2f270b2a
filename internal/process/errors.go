package process

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning   = errors.New("process already started")
	ErrTerminal         = errors.New("process is in a terminal state")
	ErrNotRunning       = errors.New("process is not running")
	ErrStartupExhausted = errors.New("startup retries exhausted")
	ErrProcessDied      = errors.New("process died")
	// ErrStartAbandoned is returned by Start when the process was stopped
	// from elsewhere while it was still starting.
	ErrStartAbandoned = errors.New("start abandoned")
)

// StartupExhaustedError is returned when every spawn attempt failed. Last is
// the final attempt's error; it is deliberately not unwrapped, so a startup
// failure never matches ErrProcessDied or ErrTimeout.
type StartupExhaustedError struct {
	Name     string
	Attempts int
	LogFiles []string
	Last     error
}

func (e *StartupExhaustedError) Error() string {
	return fmt.Sprintf("could not start %s after %d attempts: %v", e.Name, e.Attempts, e.Last)
}

func (e *StartupExhaustedError) Is(target error) bool { return target == ErrStartupExhausted }

// ProcessDiedError is returned when the child exits while a wait is pending.
type ProcessDiedError struct {
	Name    string
	Waiting string
	Err     error
}

func (e *ProcessDiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process %s died while %s: %v", e.Name, e.Waiting, e.Err)
	}
	return fmt.Sprintf("process %s died while %s", e.Name, e.Waiting)
}

func (e *ProcessDiedError) Unwrap() error { return e.Err }

func (e *ProcessDiedError) Is(target error) bool { return target == ErrProcessDied }
