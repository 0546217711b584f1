package domain

import "context"

// SignalSink delivers pause/resume primitives to a process.
// Both calls must be harmless on a pid that no longer exists and idempotent.
// Implementation: gopsutil (SIGSTOP / SIGCONT).
type SignalSink interface {
	// Pause stops the scheduling of pid.
	Pause(pid int) error

	// Resume continues a paused pid. Resuming a running pid is a no-op.
	Resume(pid int) error
}

// ProcessInspector answers liveness questions about OS processes.
type ProcessInspector interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// Name returns the executable name for pid.
	Name(pid int) (string, error)
}

// RuleSource is the configuration boundary. It yields rules in their declared order.
// Malformed entries are skipped by the implementation; an error means nothing usable
// could be read at all.
type RuleSource interface {
	LoadRules() ([]Rule, error)

	// Location describes where rules come from (for status output).
	Location() string
}

// EventSource is the process directory boundary. Run delivers events one at a time,
// in occurrence order, until ctx is canceled.
type EventSource interface {
	Run(ctx context.Context, events chan<- AppEvent) error
}

// SuspensionJournal persists which pids are paused so a crashed daemon
// can resume them on its next start.
// Implementation: SQLCipher encrypted database.
type SuspensionJournal interface {
	// MarkSuspended records that pid was paused.
	MarkSuspended(p SuspendedProcess) error

	// MarkResumed forgets pid.
	MarkResumed(pid int) error

	// Suspended lists every recorded pid.
	Suspended() ([]SuspendedProcess, error)

	// Clear removes every record.
	Clear() error

	// Close releases resources (e.g., database connection).
	Close() error
}

// DaemonRegistry provides daemon discovery for CLI commands.
// Implementation: JSON file in the data directory.
type DaemonRegistry interface {
	// Register saves the running daemon's state.
	Register(state DaemonState) error

	// UpdateHeartbeat refreshes the heartbeat and the enabled flag.
	UpdateHeartbeat(enabled bool, ruleCount int) error

	// Get returns the registered state, or nil if nothing is registered.
	Get() (*DaemonState, error)

	// Clear removes the registry file.
	Clear() error

	// Path returns the registry file path (for tests).
	Path() string
}

// LaunchAgentManager handles macOS LaunchAgent plist operations.
type LaunchAgentManager interface {
	// Install creates and loads the LaunchAgent plist.
	Install(execPath string) error

	// Uninstall unloads and removes the LaunchAgent plist.
	Uninstall() error

	// IsInstalled checks if LaunchAgent is installed.
	IsInstalled() bool

	// GetPlistPath returns the plist file path.
	GetPlistPath() string

	// NeedsUpdate checks if plist exists but has different content than expected.
	NeedsUpdate(execPath string) bool
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
