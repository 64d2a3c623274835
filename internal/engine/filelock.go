package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// hostLock holds an OS file lock so that bulk runs are exclusive across
// processes sharing one lock file. The lock is released by the OS if the
// process dies.
type hostLock struct {
	path string
	file *os.File
}

func newHostLock(path string) *hostLock {
	return &hostLock{path: path}
}

// acquire takes the lock without blocking. On contention the error carries
// the holder info written by the other process.
func (l *hostLock) acquire(runID string) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return &ConflictError{Host: l.readHolder()}
	}
	l.file = f
	l.writeHolder(runID)
	return nil
}

func (l *hostLock) release() {
	if l.file == nil {
		return
	}
	l.file.Truncate(0)
	unlock(l.file)
	l.file.Close()
	l.file = nil
}

func (l *hostLock) writeHolder(runID string) {
	l.file.Truncate(0)
	l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid:%d\nrun:%s\ntime:%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	l.file.Sync()
}

func (l *hostLock) readHolder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	var parts []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line != "" {
			parts = append(parts, line)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, " ")
}
