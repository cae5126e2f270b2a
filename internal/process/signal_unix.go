//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// signalGroup delivers the stop signal to the child's process group so
// helpers it forked go down with it. Falls back to the leader alone when the
// group is already gone.
func signalGroup(p *os.Process, mode StopMode) error {
	sig := syscall.SIGTERM
	if mode == Forced {
		sig = syscall.SIGKILL
	}
	err := syscall.Kill(-p.Pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		if serr := p.Signal(sig); serr != nil && !errors.Is(serr, os.ErrProcessDone) {
			return serr
		}
		return nil
	}
	return err
}

// processExists reports whether pid names a live process.
func processExists(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}
