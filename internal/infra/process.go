// Package infra implements infrastructure concerns (signals, rules file, journal, registry).
package infra

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// ProcessSignaler implements domain.SignalSink and domain.ProcessInspector using gopsutil.
// Pause sends SIGSTOP and Resume sends SIGCONT; both are idempotent at the OS level.
type ProcessSignaler struct {
	selfPID int
}

// NewProcessSignaler creates a new process signaler.
func NewProcessSignaler() *ProcessSignaler {
	return &ProcessSignaler{selfPID: os.Getpid()}
}

// Pause stops a process.
func (ps *ProcessSignaler) Pause(pid int) error {
	p, err := ps.lookup(pid)
	if err != nil {
		return err
	}
	return p.Suspend()
}

// Resume continues a stopped process.
func (ps *ProcessSignaler) Resume(pid int) error {
	p, err := ps.lookup(pid)
	if err != nil {
		return err
	}
	return p.Resume()
}

// lookup refuses pids that would signal init, a process group or ourselves.
func (ps *ProcessSignaler) lookup(pid int) (*process.Process, error) {
	if pid <= 1 || pid == ps.selfPID {
		return nil, fmt.Errorf("refusing to signal pid %d", pid)
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, fmt.Errorf("pid %d: %w", pid, os.ErrProcessDone)
		}
		return nil, err
	}
	return p, nil
}

// IsRunning checks if a PID exists.
func (ps *ProcessSignaler) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// Name returns the executable name of pid.
func (ps *ProcessSignaler) Name(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Name()
}

// Ensure ProcessSignaler implements the domain interfaces.
var (
	_ domain.SignalSink       = (*ProcessSignaler)(nil)
	_ domain.ProcessInspector = (*ProcessSignaler)(nil)
)
