package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// DefaultLaunchdLabel is the LaunchAgent label for the freeze daemon.
const DefaultLaunchdLabel = "com.focusd.appfreeze"

// LaunchAgent plist template (runs as the logged-in user; focus events are per-session).
const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>run</string>
{{- range .ExtraArgs}}
        <string>{{.}}</string>
{{- end}}
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.ErrorLogPath}}</string>

    <key>ProcessType</key>
    <string>Interactive</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

type plistConfig struct {
	Label          string
	ExecutablePath string
	ExtraArgs      []string
	LogPath        string
	ErrorLogPath   string
}

// LaunchAgentImpl implements domain.LaunchAgentManager for a per-user LaunchAgent.
type LaunchAgentImpl struct {
	label     string
	plistPath string
	logDir    string
	extraArgs []string
	runner    CommandRunner
}

// NewLaunchAgentManager creates a manager writing to ~/Library/LaunchAgents.
// extraArgs are appended after `run` in the plist (e.g. --rules).
func NewLaunchAgentManager(logDir string, extraArgs ...string) *LaunchAgentImpl {
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, "Library", "LaunchAgents")
	return NewLaunchAgentManagerWithDeps(dir, logDir, RealCommandRunner{}, extraArgs...)
}

// NewLaunchAgentManagerWithDeps creates a manager with an injectable plist directory and runner (for testing).
func NewLaunchAgentManagerWithDeps(plistDir, logDir string, runner CommandRunner, extraArgs ...string) *LaunchAgentImpl {
	return &LaunchAgentImpl{
		label:     DefaultLaunchdLabel,
		plistPath: filepath.Join(plistDir, DefaultLaunchdLabel+".plist"),
		logDir:    logDir,
		extraArgs: extraArgs,
		runner:    runner,
	}
}

func (m *LaunchAgentImpl) generatePlistContent(execPath string) ([]byte, error) {
	config := plistConfig{
		Label:          m.label,
		ExecutablePath: execPath,
		ExtraArgs:      m.extraArgs,
		LogPath:        filepath.Join(m.logDir, "appfreeze.stdout.log"),
		ErrorLogPath:   filepath.Join(m.logDir, "appfreeze.stderr.log"),
	}

	tmpl, err := template.New("plist").Parse(launchAgentTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, config); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

// Install writes the plist and loads it. An existing agent is unloaded first.
func (m *LaunchAgentImpl) Install(execPath string) error {
	if err := os.MkdirAll(filepath.Dir(m.plistPath), 0755); err != nil {
		return err
	}

	content, err := m.generatePlistContent(execPath)
	if err != nil {
		return fmt.Errorf("failed to generate plist content: %w", err)
	}

	if m.IsInstalled() {
		_ = m.launchctl("unload")
	}
	if err := os.WriteFile(m.plistPath, content, 0644); err != nil {
		return err
	}
	if err := m.launchctl("load"); err != nil {
		return fmt.Errorf("launchctl load %s: %w", m.plistPath, err)
	}
	return nil
}

// Uninstall unloads and removes the plist. Removing a missing plist is not an error.
func (m *LaunchAgentImpl) Uninstall() error {
	// Unload first (ignore errors if not loaded)
	_ = m.launchctl("unload")

	if err := os.Remove(m.plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsInstalled checks if the plist file exists.
func (m *LaunchAgentImpl) IsInstalled() bool {
	_, err := os.Stat(m.plistPath)
	return err == nil
}

// NeedsUpdate reports whether an installed plist differs from what Install would write.
func (m *LaunchAgentImpl) NeedsUpdate(execPath string) bool {
	if !m.IsInstalled() {
		return false
	}
	current, err := os.ReadFile(m.plistPath)
	if err != nil {
		return true
	}
	expected, err := m.generatePlistContent(execPath)
	if err != nil {
		return true
	}
	return !bytes.Equal(current, expected)
}

// GetPlistPath returns the plist file path.
func (m *LaunchAgentImpl) GetPlistPath() string {
	return m.plistPath
}

// launchctl runs `launchctl load|unload` on the plist.
// `load` is deprecated in favor of `bootstrap gui/<uid>` but remains supported.
func (m *LaunchAgentImpl) launchctl(verb string) error {
	return m.runner.Run(context.Background(), "launchctl", verb, m.plistPath)
}

// Ensure LaunchAgentImpl implements domain.LaunchAgentManager.
var _ domain.LaunchAgentManager = (*LaunchAgentImpl)(nil)
