// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"errors"
	"time"
)

// DefaultDelay is applied when a rule's delay is missing, unparsable or negative.
const DefaultDelay = 30 * time.Second

var (
	// ErrNoRules is returned by a rule source that has nothing to load.
	ErrNoRules = errors.New("no rules available")

	// ErrDaemonNotRunning is returned when no live daemon is registered.
	ErrDaemonNotRunning = errors.New("daemon not running")
)

// MatchKind selects which process attribute a rule is compared against.
type MatchKind string

const (
	// MatchExactID compares the bundle identifier, case-sensitive.
	MatchExactID MatchKind = "bundleID"
	// MatchGlob compares the display name with a case-insensitive wildcard pattern.
	MatchGlob MatchKind = "glob"
)

// Valid reports whether k is a known match kind.
func (k MatchKind) Valid() bool {
	return k == MatchExactID || k == MatchGlob
}

// Rule is a single match -> delay policy entry.
type Rule struct {
	Kind   MatchKind
	Target string
	Delay  time.Duration
}

// EventKind distinguishes focus transitions.
type EventKind int

const (
	EventActivated EventKind = iota + 1
	EventDeactivated
)

func (k EventKind) String() string {
	switch k {
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// AppEvent is one foreground/background transition reported by the OS.
type AppEvent struct {
	Kind        EventKind
	PID         int
	BundleID    string
	DisplayName string
}

// DaemonState is persisted so CLI commands can find and describe the running daemon.
type DaemonState struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Enabled       bool   `json:"enabled"`
	RulesPath     string `json:"rules_path,omitempty"`
	RuleCount     int    `json:"rule_count"`
	APIAddr       string `json:"api_addr,omitempty"`
	AppVersion    string `json:"app_version,omitempty"`
}

// SuspendedProcess is a journal record of a pid this daemon paused.
type SuspendedProcess struct {
	PID         int
	BundleID    string
	SuspendedAt time.Time
}

// Status is a point-in-time view of the scheduler for display.
type Status struct {
	Enabled    bool  `json:"enabled"`
	RuleCount  int   `json:"rule_count"`
	PendingPID []int `json:"pending_pids"`
	Suspended  []int `json:"suspended_pids"`
}
