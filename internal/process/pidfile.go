package process

import (
	"os"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// WritePIDFile writes pid on the first line followed by the JSON status, so
// tooling that only wants the pid can read the first line.
func WritePIDFile(path string, pid int, st Status) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	data := strconv.Itoa(pid) + "\n" + string(b) + "\n"
	return os.WriteFile(path, []byte(data), 0o644)
}

// ReadPIDFile reads a file written by WritePIDFile. Files holding only a pid
// yield a nil status, as does an undecodable status line.
func ReadPIDFile(path string) (int, *Status, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, nil, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, nil, err
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return pid, nil, nil
	}
	var st Status
	if err := json.Unmarshal([]byte(rest), &st); err != nil {
		return pid, nil, nil
	}
	return pid, &st, nil
}

// StalePID reports the pid recorded in path and whether that process is
// still alive. A missing or unreadable file yields (0, false).
func StalePID(path string) (int, bool) {
	pid, _, err := ReadPIDFile(path)
	if err != nil {
		return 0, false
	}
	return pid, processExists(pid)
}
