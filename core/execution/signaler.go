package execution

import (
	"os"
	"syscall"
)

// ProcessSignaler delivers termination signals to subprocess-backed
// executions. Split out so tests can observe signals without real pids.
type ProcessSignaler interface {
	Terminate(pid int) error
}

// OSSignaler sends SIGTERM through the operating system
type OSSignaler struct{}

// Terminate sends SIGTERM to the process with the given pid
func (OSSignaler) Terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGTERM)
}
