// Package main is the CLI entry point for appfreeze.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/app_freeze/internal/api"
	"github.com/eliteGoblin/focusd/app_freeze/internal/config"
	"github.com/eliteGoblin/focusd/app_freeze/internal/daemon"
	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/infra"
	"github.com/eliteGoblin/focusd/app_freeze/internal/policy"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appfreeze",
	Short: "Suspends background apps after an idle delay",
	Long: `appfreeze watches which application is in front. When a blacklisted app
loses focus it is paused (SIGSTOP) after its configured delay, and resumed
(SIGCONT) the moment it comes back to the front.

Rules live in ~/blacklist.json:

  {"blacklist": [
    {"type": "bundleID", "identifier": "com.valvesoftware.steam", "delay": 30},
    {"type": "glob", "pattern": "Dota*", "delay": 5}
  ]}`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Runs the suspension daemon until interrupted. On exit every process it
paused is resumed. SIGUSR1 reloads rules, SIGUSR2 toggles suspension.`,
	RunE: runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon (resumes every suspended app)",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runStatus,
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Validate and list the rules file",
	Long:  `Parses the rules file exactly as the daemon would and prints the result in match order.`,
	RunE:  runRules,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask the daemon to re-read its rules file (SIGUSR1)",
	RunE:  runReload,
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Turn suspension on or off",
	Long: `Flips suspension. Turning it off resumes every paused app immediately.
Use --on or --off to set the state explicitly.`,
	RunE: runToggle,
}

var resumeAllCmd = &cobra.Command{
	Use:   "resume-all",
	Short: "Resume every paused app without disabling suspension",
	RunE:  runResumeAll,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a LaunchAgent so the daemon starts at login",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the LaunchAgent",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	jsonOutput bool
	toggleOn   bool
	toggleOff  bool
)

func init() {
	rootCmd.PersistentFlags().String("rules", "", "Rules file (default ~/blacklist.json)")
	rootCmd.PersistentFlags().Bool("debug", false, "Verbose development logging")
	rootCmd.PersistentFlags().String("api-addr", "", "Control API listen address (default 127.0.0.1:7780)")
	rootCmd.PersistentFlags().String("data-dir", "", "State directory (default ~/.appfreeze)")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	rulesCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output rules as JSON")
	toggleCmd.Flags().BoolVar(&toggleOn, "on", false, "Enable suspension")
	toggleCmd.Flags().BoolVar(&toggleOff, "off", false, "Disable suspension and resume everything")
	toggleCmd.MarkFlagsMutuallyExclusive("on", "off")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(resumeAllCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads settings with this command's flags applied.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// liveDaemon returns the running daemon's registry entry.
func liveDaemon(cfg config.Config) (*domain.DaemonState, error) {
	return infra.LiveDaemon(infra.NewFileRegistry(cfg.Daemon.DataDir), infra.NewProcessSignaler())
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if state, err := liveDaemon(cfg); err == nil {
		fmt.Printf("appfreeze is already running (pid %d)\n", state.PID)
		return nil
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	pid, err := daemon.StartDetached(execPath, passthroughFlags(cmd)...)
	if err != nil {
		return err
	}
	fmt.Printf("appfreeze started (pid %d)\n", pid)
	fmt.Printf("Logs: %s\n", cfg.Log.Path)
	return nil
}

// passthroughFlags forwards explicitly set persistent flags to a spawned daemon.
func passthroughFlags(cmd *cobra.Command) []string {
	var out []string
	for _, name := range []string{"rules", "api-addr", "data-dir"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			out = append(out, "--"+name, f.Value.String())
		}
	}
	if f := cmd.Flags().Lookup("debug"); f != nil && f.Changed && f.Value.String() == "true" {
		out = append(out, "--debug")
	}
	return out
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	state, err := daemon.Signal(infra.NewFileRegistry(cfg.Daemon.DataDir), infra.NewProcessSignaler(), syscall.SIGTERM)
	if errors.Is(err, domain.ErrDaemonNotRunning) {
		fmt.Println("appfreeze is not running")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Sent stop to pid %d\n", state.PID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Println("\n=== appfreeze Status ===")

	state, err := liveDaemon(cfg)
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'appfreeze start' to enable suspension.")
		printAutoStart(cfg)
		fmt.Println("========================")
		return nil
	}

	fmt.Printf("Status: RUNNING (pid %d, %s)\n", state.PID, state.AppVersion)
	if state.StartedAt > 0 {
		fmt.Printf("Uptime: %s\n", time.Since(time.Unix(state.StartedAt, 0)).Round(time.Second))
	}
	if state.LastHeartbeat > 0 {
		fmt.Printf("Last heartbeat: %s ago\n", time.Since(time.Unix(state.LastHeartbeat, 0)).Round(time.Second))
	}
	fmt.Printf("Rules file: %s\n", state.RulesPath)

	if state.APIAddr != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		st, err := api.NewClient(state.APIAddr).Status(ctx)
		if err == nil {
			fmt.Printf("Suspension: %s\n", onOff(st.Enabled))
			fmt.Printf("Rules: %d\n", st.RuleCount)
			fmt.Printf("Pending: %s\n", formatPIDs(st.PendingPID))
			fmt.Printf("Suspended: %s\n", formatPIDs(st.Suspended))
		} else {
			fmt.Printf("Suspension: %s (control API unreachable: %v)\n", onOff(state.Enabled), err)
			fmt.Printf("Rules: %d\n", state.RuleCount)
		}
	} else {
		fmt.Printf("Suspension: %s\n", onOff(state.Enabled))
		fmt.Printf("Rules: %d\n", state.RuleCount)
	}

	printAutoStart(cfg)
	fmt.Println("========================")
	return nil
}

func printAutoStart(cfg config.Config) {
	la := infra.NewLaunchAgentManager(logDir(cfg))
	if la.IsInstalled() {
		fmt.Printf("Auto-start: enabled (%s)\n", la.GetPlistPath())
	} else {
		fmt.Println("Auto-start: disabled")
	}
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if cfg.Log.Debug {
		logger, _ = zap.NewDevelopment()
	}
	src := infra.NewJSONRuleSource(cfg.Rules.Path, cfg.Rules.DefaultDelay, logger)
	rules, err := src.LoadRules()
	if err != nil {
		return err
	}
	rs := policy.NewRuleSet(rules)

	if jsonOutput {
		out := make([]api.RuleDTO, 0, rs.Len())
		for _, r := range rs.Rules() {
			out = append(out, api.RuleDTO{Type: string(r.Kind), Target: r.Target, DelaySeconds: r.Delay.Seconds()})
		}
		return printJSON(map[string]interface{}{"path": src.Location(), "rules": out})
	}

	fmt.Printf("Rules from %s (first match wins):\n", src.Location())
	if rs.Len() == 0 {
		fmt.Println("  (none)")
	}
	for i, r := range rs.Rules() {
		fmt.Printf("  %2d. %-8s %-40s %s\n", i+1, r.Kind, r.Target, r.Delay)
	}
	for _, perr := range rs.Errors() {
		fmt.Printf("  warning: %v\n", perr)
	}
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	state, err := liveDaemon(cfg)
	if err != nil {
		return err
	}

	if state.APIAddr != "" {
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		n, err := api.NewClient(state.APIAddr).Reload(ctx)
		if err == nil {
			fmt.Printf("Rules reloaded (%d rules)\n", n)
			return nil
		}
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			return err
		}
		// API unreachable; fall back to the signal.
	}

	if _, err := daemon.Signal(infra.NewFileRegistry(cfg.Daemon.DataDir), infra.NewProcessSignaler(), syscall.SIGUSR1); err != nil {
		return err
	}
	fmt.Printf("Reload requested (pid %d)\n", state.PID)
	return nil
}

func runToggle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	state, err := liveDaemon(cfg)
	if err != nil {
		return err
	}

	var want *bool
	switch {
	case toggleOn:
		v := true
		want = &v
	case toggleOff:
		v := false
		want = &v
	}

	if state.APIAddr == "" {
		if want != nil {
			return errors.New("--on/--off need the control API; it is disabled")
		}
		if _, err := daemon.Signal(infra.NewFileRegistry(cfg.Daemon.DataDir), infra.NewProcessSignaler(), syscall.SIGUSR2); err != nil {
			return err
		}
		fmt.Println("Toggle requested")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	enabled, err := api.NewClient(state.APIAddr).Toggle(ctx, want)
	if err != nil {
		return err
	}
	fmt.Printf("Suspension: %s\n", onOff(enabled))
	return nil
}

func runResumeAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	state, err := liveDaemon(cfg)
	if err != nil {
		return err
	}
	if state.APIAddr == "" {
		return errors.New("resume-all needs the control API; it is disabled")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	resumed, err := api.NewClient(state.APIAddr).ResumeAll(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Resumed: %s\n", formatPIDs(resumed))
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	la := infra.NewLaunchAgentManager(logDir(cfg), passthroughFlags(cmd)...)
	if la.IsInstalled() && !la.NeedsUpdate(execPath) {
		fmt.Printf("LaunchAgent already installed: %s\n", la.GetPlistPath())
		return nil
	}
	if err := la.Install(execPath); err != nil {
		return fmt.Errorf("failed to install LaunchAgent: %w", err)
	}
	fmt.Printf("LaunchAgent installed: %s\n", la.GetPlistPath())
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	la := infra.NewLaunchAgentManager(logDir(cfg))
	if !la.IsInstalled() {
		fmt.Println("LaunchAgent not installed")
		return nil
	}
	if err := la.Uninstall(); err != nil {
		return fmt.Errorf("failed to uninstall LaunchAgent: %w", err)
	}
	fmt.Println("LaunchAgent removed")
	return nil
}

// createLogger builds the daemon logger. It writes to cfg.Path and falls
// back to stdout if the file cannot be opened.
func createLogger(cfg config.LogConfig) *zap.Logger {
	var zc zap.Config
	if cfg.Debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.OutputPaths = []string{cfg.Path}
	zc.ErrorOutputPaths = []string{strings.TrimSuffix(cfg.Path, ".log") + ".error.log"}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		zc.OutputPaths = []string{"stdout"}
		zc.ErrorOutputPaths = []string{"stderr"}
		logger, _ = zc.Build()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		_ = printJSON(map[string]string{"version": Version, "commit": Commit, "build_time": BuildTime})
	} else {
		fmt.Printf("appfreeze %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
