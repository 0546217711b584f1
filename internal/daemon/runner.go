package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// RunnerConfig holds daemon loop configuration.
type RunnerConfig struct {
	HeartbeatInterval time.Duration // How often to refresh the registry entry
	EventBuffer       int           // Capacity of the focus event channel
}

// DefaultRunnerConfig returns default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		HeartbeatInterval: 30 * time.Second,
		EventBuffer:       64,
	}
}

// Runner is the daemon's single consumer loop. Focus events, reload
// requests, SIGUSR1 (reload) and SIGUSR2 (toggle) are all handled here.
type Runner struct {
	config     RunnerConfig
	controller *Controller
	source     domain.EventSource
	registry   domain.DaemonRegistry
	state      domain.DaemonState
	logger     *zap.Logger

	reloadCh chan struct{}
	sigCh    chan os.Signal
}

// NewRunner creates a runner. registry may be nil.
func NewRunner(
	config RunnerConfig,
	controller *Controller,
	source domain.EventSource,
	registry domain.DaemonRegistry,
	state domain.DaemonState,
	logger *zap.Logger,
) *Runner {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultRunnerConfig().HeartbeatInterval
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultRunnerConfig().EventBuffer
	}
	return &Runner{
		config:     config,
		controller: controller,
		source:     source,
		registry:   registry,
		state:      state,
		logger:     logger,
		reloadCh:   make(chan struct{}, 1),
		sigCh:      make(chan os.Signal, 4),
	}
}

// RequestReload asks the loop to reload rules. Requests made while one is
// already queued are coalesced.
func (r *Runner) RequestReload() {
	select {
	case r.reloadCh <- struct{}{}:
	default:
	}
}

// Run recovers leftovers from a previous run, loads rules and processes
// events until ctx is canceled. Every suspended process is resumed before
// it returns.
func (r *Runner) Run(ctx context.Context) error {
	if recovered := r.controller.Recover(); len(recovered) > 0 {
		r.logger.Info("recovered suspended processes", zap.Ints("pids", recovered))
	}
	if err := r.controller.Reload(); err != nil {
		r.logger.Warn("starting without rules", zap.Error(err))
	}

	if r.registry != nil {
		state := r.state
		state.PID = os.Getpid()
		state.Enabled = r.controller.IsEnabled()
		state.RuleCount = len(r.controller.Rules())
		if err := r.registry.Register(state); err != nil {
			r.logger.Error("failed to register daemon", zap.Error(err))
			return err
		}
		defer func() {
			if err := r.registry.Clear(); err != nil {
				r.logger.Warn("failed to clear registry", zap.Error(err))
			}
		}()
	}
	defer r.controller.Cleanup()

	signal.Notify(r.sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(r.sigCh)

	srcCtx, cancelSource := context.WithCancel(ctx)
	defer cancelSource()
	events := make(chan domain.AppEvent, r.config.EventBuffer)
	sourceErr := make(chan error, 1)
	go func() { sourceErr <- r.source.Run(srcCtx, events) }()

	heartbeatTicker := time.NewTicker(r.config.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	r.logger.Info("daemon started",
		zap.Int("pid", os.Getpid()),
		zap.Bool("enabled", r.controller.IsEnabled()),
		zap.Int("rules", len(r.controller.Rules())))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("daemon stopping")
			return ctx.Err()

		case ev := <-events:
			r.logger.Debug("focus event",
				zap.Stringer("kind", ev.Kind),
				zap.Int("pid", ev.PID),
				zap.String("bundle_id", ev.BundleID),
				zap.String("name", ev.DisplayName))
			r.controller.HandleEvent(ev)

		case <-r.reloadCh:
			_ = r.controller.Reload()

		case sig := <-r.sigCh:
			r.handleSignal(sig)

		case <-heartbeatTicker.C:
			r.heartbeat()

		case err := <-sourceErr:
			if ctx.Err() != nil {
				continue
			}
			if err == nil {
				r.logger.Info("event source finished")
				return nil
			}
			r.logger.Error("event source stopped", zap.Error(err))
			return fmt.Errorf("event source: %w", err)
		}
	}
}

func (r *Runner) handleSignal(sig os.Signal) {
	switch sig {
	case syscall.SIGUSR1:
		r.logger.Info("reload requested by signal")
		_ = r.controller.Reload()
	case syscall.SIGUSR2:
		enabled := r.controller.Toggle()
		r.logger.Info("toggled by signal", zap.Bool("enabled", enabled))
		r.heartbeat()
	}
}

func (r *Runner) heartbeat() {
	if r.registry == nil {
		return
	}
	if err := r.registry.UpdateHeartbeat(r.controller.IsEnabled(), len(r.controller.Rules())); err != nil {
		r.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
}
