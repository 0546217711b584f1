package daemon

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

func TestDefaultRunnerConfig(t *testing.T) {
	config := DefaultRunnerConfig()
	assert.Equal(t, 30*time.Second, config.HeartbeatInterval)
	assert.NotZero(t, config.EventBuffer)
}

type runHarness struct {
	*fixture
	source   *chanSource
	registry *memRegistry
	runner   *Runner
	cancel   context.CancelFunc
	done     chan error
}

func startRunner(t *testing.T, config RunnerConfig, rules ...domain.Rule) *runHarness {
	t.Helper()
	h := &runHarness{
		fixture:  newFixture(t, rules...),
		source:   newChanSource(),
		registry: &memRegistry{},
		done:     make(chan error, 1),
	}
	h.runner = NewRunner(config, h.controller, h.source, h.registry, domain.DaemonState{AppVersion: "test"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.runner.Run(ctx) }()
	t.Cleanup(func() { h.stop(t) })

	require.Eventually(t, func() bool {
		s, _, _ := h.registry.snapshot()
		return s.PID != 0
	}, time.Second, 5*time.Millisecond, "runner never registered")
	return h
}

func (h *runHarness) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err, ok := <-h.done:
		if ok {
			close(h.done)
		}
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func (h *runHarness) send(ev domain.AppEvent) {
	h.source.ch <- ev
}

func TestRunner_RegistersLoadsRulesAndCleansUp(t *testing.T) {
	h := startRunner(t, RunnerConfig{HeartbeatInterval: time.Hour},
		domain.Rule{Kind: domain.MatchExactID, Target: "com.a", Delay: time.Hour})

	state, _, _ := h.registry.snapshot()
	assert.Equal(t, "test", state.AppVersion)
	assert.True(t, state.Enabled)
	assert.Equal(t, 1, state.RuleCount)

	h.send(deactivate(42, "com.a"))
	require.Eventually(t, func() bool {
		return len(h.controller.Status().PendingPID) == 1
	}, time.Second, 5*time.Millisecond)

	err := h.stop(t)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, h.sink.resumes(42), "shutdown resumes pending pids")
	_, _, cleared := h.registry.snapshot()
	assert.True(t, cleared)
}

func TestRunner_RecoversJournalBeforeStarting(t *testing.T) {
	f := newFixture(t)
	f.journal = newMemJournal(77)
	f.controller = NewController(f.scheduler, f.rules, f.journal, f.sink, liveSet{77: true}, nil, zap.NewNop())

	r := NewRunner(RunnerConfig{}, f.controller, newChanSource(), nil, domain.DaemonState{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return f.sink.resumes(77) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, f.journal.len())
}

func TestRunner_SignalsReloadAndToggle(t *testing.T) {
	h := startRunner(t, RunnerConfig{HeartbeatInterval: time.Hour})
	assert.Empty(t, h.controller.Rules())

	h.rules.set([]domain.Rule{{Kind: domain.MatchGlob, Target: "*", Delay: time.Second}}, nil)
	h.runner.sigCh <- syscall.SIGUSR1
	require.Eventually(t, func() bool { return len(h.controller.Rules()) == 1 }, time.Second, 5*time.Millisecond)

	h.runner.sigCh <- syscall.SIGUSR2
	require.Eventually(t, func() bool { return !h.controller.IsEnabled() }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s, _, _ := h.registry.snapshot()
		return !s.Enabled
	}, time.Second, 5*time.Millisecond, "toggle refreshes registry")
}

func TestRunner_RequestReloadCoalesces(t *testing.T) {
	h := startRunner(t, RunnerConfig{HeartbeatInterval: time.Hour})

	h.rules.set([]domain.Rule{{Kind: domain.MatchExactID, Target: "com.x", Delay: time.Second}}, nil)
	for i := 0; i < 10; i++ {
		h.runner.RequestReload()
	}
	require.Eventually(t, func() bool { return len(h.controller.Rules()) == 1 }, time.Second, 5*time.Millisecond)

	h.rules.mu.Lock()
	loads := h.rules.loads
	h.rules.mu.Unlock()
	assert.LessOrEqual(t, loads, 1+10, "initial load plus coalesced requests")
	assert.GreaterOrEqual(t, loads, 2)
}

func TestRunner_Heartbeat(t *testing.T) {
	h := startRunner(t, RunnerConfig{HeartbeatInterval: 10 * time.Millisecond})
	require.Eventually(t, func() bool {
		_, beats, _ := h.registry.snapshot()
		return beats >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRunner_SourceFailureStopsLoop(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("osascript missing")
	r := NewRunner(RunnerConfig{}, f.controller, failingSource{err: boom}, nil, domain.DaemonState{}, zap.NewNop())

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunner_RegisterFailure(t *testing.T) {
	f := newFixture(t)
	reg := &memRegistry{regErr: errors.New("read-only fs")}
	r := NewRunner(RunnerConfig{}, f.controller, newChanSource(), reg, domain.DaemonState{}, zap.NewNop())

	err := r.Run(context.Background())
	assert.Error(t, err)
}
