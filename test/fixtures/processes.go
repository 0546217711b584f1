// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// Sleeper is a child process that does nothing for a minute.
type Sleeper struct {
	cmd *exec.Cmd
}

// StartSleeper spawns `sleep 60`.
func StartSleeper() (*Sleeper, error) {
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Sleeper{cmd: cmd}, nil
}

// PID returns the child's pid.
func (s *Sleeper) PID() int {
	return s.cmd.Process.Pid
}

// IsStopped reports whether the child is in the stopped (SIGSTOP) state.
func (s *Sleeper) IsStopped() bool {
	p, err := process.NewProcess(int32(s.PID()))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil || len(st) == 0 {
		return false
	}
	return st[0] == process.Stop
}

// Kill continues and kills the child, then reaps it.
func (s *Sleeper) Kill() {
	_ = s.cmd.Process.Signal(syscall.SIGCONT)
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
}

// RuleEntry mirrors one entry of the blacklist file.
type RuleEntry struct {
	Type       string  `json:"type"`
	Identifier string  `json:"identifier,omitempty"`
	Pattern    string  `json:"pattern,omitempty"`
	Delay      float64 `json:"delay"`
}

// WriteRules writes a blacklist file into dir and returns its path.
func WriteRules(dir string, entries ...RuleEntry) (string, error) {
	data, err := json.MarshalIndent(map[string]interface{}{"blacklist": entries}, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "blacklist.json")
	return path, os.WriteFile(path, data, 0644)
}

// ScriptedSource is an EventSource driven by the test through Emit.
type ScriptedSource struct {
	events chan domain.AppEvent
}

// NewScriptedSource creates an idle source.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{events: make(chan domain.AppEvent)}
}

// Emit hands ev to the running daemon, blocking until it is taken.
func (s *ScriptedSource) Emit(ev domain.AppEvent) {
	s.events <- ev
}

// Run forwards emitted events until ctx is canceled.
func (s *ScriptedSource) Run(ctx context.Context, out chan<- domain.AppEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
