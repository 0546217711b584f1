// Package daemon wires the scheduler to its event source, rules file and OS signals.
package daemon

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/metrics"
	"github.com/eliteGoblin/focusd/app_freeze/internal/policy"
	"github.com/eliteGoblin/focusd/app_freeze/internal/usecase"
)

// Controller is the lifecycle boundary: toggle, reload, cleanup and crash recovery.
// It is safe for concurrent use by the runner loop, the HTTP API and signal handlers.
type Controller struct {
	scheduler *usecase.Scheduler
	source    domain.RuleSource
	journal   domain.SuspensionJournal
	sink      domain.SignalSink
	inspector domain.ProcessInspector
	metrics   *metrics.Metrics
	logger    *zap.Logger

	reloadMu   sync.Mutex
	lastReload time.Time
	lastErr    error
}

// NewController creates a controller. journal, inspector and m may be nil.
func NewController(
	scheduler *usecase.Scheduler,
	source domain.RuleSource,
	journal domain.SuspensionJournal,
	sink domain.SignalSink,
	inspector domain.ProcessInspector,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		scheduler: scheduler,
		source:    source,
		journal:   journal,
		sink:      sink,
		inspector: inspector,
		metrics:   m,
		logger:    logger,
	}
}

// HandleEvent forwards a focus transition to the scheduler.
func (c *Controller) HandleEvent(ev domain.AppEvent) {
	c.scheduler.HandleEvent(ev)
}

// Toggle flips suspension on or off and returns the new state.
func (c *Controller) Toggle() bool {
	return c.scheduler.Toggle()
}

// SetEnabled sets the state explicitly. Disabling resumes everything.
func (c *Controller) SetEnabled(enabled bool) {
	c.scheduler.SetEnabled(enabled)
}

// IsEnabled reports the current state.
func (c *Controller) IsEnabled() bool {
	return c.scheduler.IsEnabled()
}

// Reload reads the rules source and installs the result. On error the
// previous rules stay active and the error is returned for display.
func (c *Controller) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	rules, err := c.source.LoadRules()
	c.lastReload = time.Now()
	if err != nil {
		c.lastErr = err
		c.metrics.ObserveReload(0, err)
		c.logger.Warn("failed to load rules, keeping previous set",
			zap.String("source", c.source.Location()),
			zap.Int("active_rules", c.scheduler.Rules().Len()),
			zap.Error(err))
		return fmt.Errorf("reload rules from %s: %w", c.source.Location(), err)
	}

	rs := policy.NewRuleSet(rules)
	for _, perr := range rs.Errors() {
		c.logger.Warn("rule will never match", zap.Error(perr))
	}
	c.scheduler.SetRules(rs)
	c.lastErr = nil
	c.metrics.ObserveReload(rs.Len(), nil)
	c.logger.Info("rules loaded",
		zap.String("source", c.source.Location()),
		zap.Int("count", rs.Len()))
	return nil
}

// LastReload returns when Reload last ran and its error, if any.
func (c *Controller) LastReload() (time.Time, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.lastReload, c.lastErr
}

// Rules returns the active rules in match order.
func (c *Controller) Rules() []domain.Rule {
	return c.scheduler.Rules().Rules()
}

// Status returns a snapshot of the scheduler.
func (c *Controller) Status() domain.Status {
	return c.scheduler.Status()
}

// ResumeAll cancels pending suspends and resumes every suspended pid
// without changing the enabled flag.
func (c *Controller) ResumeAll() []int {
	return c.scheduler.Sweep()
}

// Cleanup is the shutdown hook. Calling it more than once is harmless.
func (c *Controller) Cleanup() {
	resumed := c.scheduler.Sweep()
	c.scheduler.FlushJournal()
	c.logger.Info("cleanup complete", zap.Ints("resumed", resumed))
}

// Recover resumes pids a previous run left paused, then clears the journal.
// Pids that no longer exist are dropped. It returns the pids resumed.
func (c *Controller) Recover() []int {
	if c.journal == nil {
		return nil
	}

	records, err := c.journal.Suspended()
	if err != nil {
		c.logger.Warn("failed to read suspension journal", zap.Error(err))
		return nil
	}

	var resumed []int
	for _, rec := range records {
		if c.inspector != nil && !c.inspector.IsRunning(rec.PID) {
			c.logger.Debug("journaled process is gone", zap.Int("pid", rec.PID))
			continue
		}
		if err := c.sink.Resume(rec.PID); err != nil {
			c.logger.Debug("failed to resume journaled process", zap.Int("pid", rec.PID), zap.Error(err))
			continue
		}
		resumed = append(resumed, rec.PID)
		c.logger.Info("resumed process left suspended by previous run",
			zap.Int("pid", rec.PID),
			zap.String("bundle_id", rec.BundleID),
			zap.Time("suspended_at", rec.SuspendedAt))
	}

	if err := c.journal.Clear(); err != nil {
		c.logger.Warn("failed to clear suspension journal", zap.Error(err))
	}
	return resumed
}
