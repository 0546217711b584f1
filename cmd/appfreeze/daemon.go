package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/api"
	"github.com/eliteGoblin/focusd/app_freeze/internal/config"
	"github.com/eliteGoblin/focusd/app_freeze/internal/daemon"
	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/infra"
	"github.com/eliteGoblin/focusd/app_freeze/internal/metrics"
	"github.com/eliteGoblin/focusd/app_freeze/internal/policy"
	"github.com/eliteGoblin/focusd/app_freeze/internal/usecase"
)

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	// Initialize infrastructure
	signaler := infra.NewProcessSignaler()
	registry := infra.NewFileRegistry(cfg.Daemon.DataDir)
	if state, err := infra.LiveDaemon(registry, signaler); err == nil {
		return fmt.Errorf("appfreeze already running (pid %d)", state.PID)
	}

	m := metrics.New()

	var journal domain.SuspensionJournal
	if cfg.Journal.Enabled {
		j, err := infra.OpenJournal(cfg.Daemon.DataDir)
		if err != nil {
			logger.Warn("suspension journal unavailable, crash recovery disabled", zap.Error(err))
		} else {
			journal = j
			defer j.Close()
		}
	}

	rulesSource := infra.NewJSONRuleSource(cfg.Rules.Path, cfg.Rules.DefaultDelay, logger)
	scheduler := usecase.NewSchedulerWithDeps(signaler, policy.NewStore(nil), usecase.NewPendingTable(), journal, m, logger)
	controller := daemon.NewController(scheduler, rulesSource, journal, signaler, signaler, m, logger)
	// Runs again after the runner's own cleanup; the second sweep finds nothing.
	defer controller.Cleanup()

	state := domain.DaemonState{
		RulesPath:  rulesSource.Location(),
		AppVersion: Version,
	}
	if cfg.API.Enabled {
		state.APIAddr = cfg.API.Addr
	}

	poller := infra.NewFocusPoller(cfg.Focus.PollInterval, signaler, logger)
	runner := daemon.NewRunner(
		daemon.RunnerConfig{HeartbeatInterval: cfg.Daemon.HeartbeatInterval},
		controller,
		poller,
		registry,
		state,
		logger,
	)

	if cfg.Rules.Watch {
		rulesSource.Watch(runner.RequestReload)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.API.Enabled {
		if !cfg.Log.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		srv := api.NewServer(api.Config{Addr: cfg.API.Addr, Version: Version}, controller, m.Handler(), logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("control api stopped", zap.Error(err))
			}
		}()
	}

	err = runner.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logDir(cfg config.Config) string {
	return filepath.Dir(cfg.Log.Path)
}

func onOff(enabled bool) string {
	if enabled {
		return "ON"
	}
	return "OFF"
}

func formatPIDs(pids []int) string {
	if len(pids) == 0 {
		return "none"
	}
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ", ")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
