package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

const (
	registryFileName = "daemon.json"
	registryVersion  = 1
)

// FileRegistry implements domain.DaemonRegistry using a JSON file in the data directory.
type FileRegistry struct {
	path string
	now  func() time.Time
}

// NewFileRegistry creates a registry inside dataDir.
func NewFileRegistry(dataDir string) *FileRegistry {
	return NewFileRegistryWithPath(filepath.Join(dataDir, registryFileName))
}

// NewFileRegistryWithPath creates a registry at a specific path (for testing).
func NewFileRegistryWithPath(path string) *FileRegistry {
	return &FileRegistry{path: path, now: time.Now}
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// Register overwrites the file with state, stamping the heartbeat.
func (r *FileRegistry) Register(state domain.DaemonState) error {
	return r.withLock(func() error {
		state.Version = registryVersion
		now := r.now().Unix()
		if state.StartedAt == 0 {
			state.StartedAt = now
		}
		state.LastHeartbeat = now
		return r.atomicWrite(&state)
	})
}

// UpdateHeartbeat refreshes the heartbeat along with the fields that change at runtime.
func (r *FileRegistry) UpdateHeartbeat(enabled bool, ruleCount int) error {
	return r.withLock(func() error {
		state, err := r.Get()
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("registry %s: %w", r.path, domain.ErrDaemonNotRunning)
		}
		state.LastHeartbeat = r.now().Unix()
		state.Enabled = enabled
		state.RuleCount = ruleCount
		return r.atomicWrite(state)
	})
}

// Get returns the registered state. A missing file is (nil, nil).
func (r *FileRegistry) Get() (*domain.DaemonState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state domain.DaemonState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt registry %s: %w", r.path, err)
	}
	return &state, nil
}

// Clear removes the registry file. A missing file is not an error.
func (r *FileRegistry) Clear() error {
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// withLock serializes writers across processes (daemon heartbeat vs. a second `run`).
func (r *FileRegistry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return fn()
}

// atomicWrite writes the state to a temp file and renames it into place.
func (r *FileRegistry) atomicWrite(state *domain.DaemonState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// LiveDaemon returns the registered state only if its pid is still running.
func LiveDaemon(reg domain.DaemonRegistry, inspector domain.ProcessInspector) (*domain.DaemonState, error) {
	state, err := reg.Get()
	if err != nil {
		return nil, err
	}
	if state == nil || state.PID <= 0 || !inspector.IsRunning(state.PID) {
		return nil, domain.ErrDaemonNotRunning
	}
	return state, nil
}

// Ensure FileRegistry implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*FileRegistry)(nil)
