package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// openLog creates the capture file for one attempt. The child inherits the
// descriptor directly; the supervisor closes its copy after the spawn line.
func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func writeSpawnLine(f *os.File, c Config, pid, attempt int, args []string) {
	_, _ = fmt.Fprintf(f, "%s started %s (pid %d, attempt %d/%d): %s %s\n",
		time.Now().Format(time.RFC3339), c.Name, pid, attempt, c.StartRetries, c.Binary, strings.Join(args, " "))
}
