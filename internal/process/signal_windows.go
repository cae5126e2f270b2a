//go:build windows

package process

import (
	"errors"
	"os"
	"syscall"
)

var (
	kernel32        = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess = kernel32.NewProc("OpenProcess")
	procCloseHandle = kernel32.NewProc("CloseHandle")
)

const processQueryInformation = 0x0400

// signalGroup terminates the child. Windows has no graceful equivalent of
// SIGTERM for console-less children, so both modes end the process.
func signalGroup(p *os.Process, _ StopMode) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// processExists reports whether pid names a live process.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ret, _, _ := procOpenProcess.Call(uintptr(processQueryInformation), 0, uintptr(pid))
	if ret == 0 {
		return false
	}
	_, _, _ = procCloseHandle.Call(ret)
	return true
}
