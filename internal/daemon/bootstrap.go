package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/infra"
)

// StartDetached spawns `execPath run args...` in its own session so it
// outlives the calling shell. It returns the child's pid.
func StartDetached(execPath string, args ...string) (int, error) {
	cmd := exec.Command(execPath, append([]string{"run"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	// No stdin/stdout/stderr - the daemon logs to its own file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()
	return pid, nil
}

// Signal delivers sig to the registered daemon. It returns the daemon state
// it signaled, or domain.ErrDaemonNotRunning.
func Signal(reg domain.DaemonRegistry, inspector domain.ProcessInspector, sig syscall.Signal) (*domain.DaemonState, error) {
	state, err := infra.LiveDaemon(reg, inspector)
	if err != nil {
		return nil, err
	}
	if state.PID == os.Getpid() {
		return nil, fmt.Errorf("refusing to signal self (pid %d)", state.PID)
	}
	if err := syscall.Kill(state.PID, sig); err != nil {
		return nil, fmt.Errorf("signal %s to pid %d: %w", sig, state.PID, err)
	}
	return state, nil
}
