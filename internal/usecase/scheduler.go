// Package usecase contains application business logic.
package usecase

import (
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/metrics"
	"github.com/eliteGoblin/focusd/app_freeze/internal/policy"
)

// Scheduler turns focus events into delayed suspends and immediate resumes.
//
// Lock order: mu, then the table lock, then suspendedMu.
// mu makes "check enabled + schedule" exclusive with "disable + sweep", so no
// suspend can be armed behind a sweep's back.
type Scheduler struct {
	mu      sync.Mutex
	enabled bool

	rules   *policy.Store
	table   *PendingTable
	sink    domain.SignalSink
	journal *journalQueue
	metrics *metrics.Metrics
	logger  *zap.Logger
	selfPID int

	suspendedMu sync.Mutex
	suspended   map[int]domain.SuspendedProcess
}

// NewScheduler creates an enabled scheduler with real timers and no journal.
func NewScheduler(sink domain.SignalSink, rules *policy.Store, logger *zap.Logger) *Scheduler {
	return NewSchedulerWithDeps(sink, rules, NewPendingTable(), nil, nil, logger)
}

// NewSchedulerWithDeps creates a scheduler with every collaborator injected.
// journal and m may be nil.
func NewSchedulerWithDeps(
	sink domain.SignalSink,
	rules *policy.Store,
	table *PendingTable,
	journal domain.SuspensionJournal,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Scheduler {
	if rules == nil {
		rules = policy.NewStore(nil)
	}
	s := &Scheduler{
		enabled:   true,
		rules:     rules,
		table:     table,
		sink:      sink,
		metrics:   m,
		logger:    logger,
		selfPID:   os.Getpid(),
		suspended: make(map[int]domain.SuspendedProcess),
	}
	if journal != nil {
		s.journal = newJournalQueue(journal, logger)
	}
	m.RegisterPending(func() float64 { return float64(table.Len()) })
	m.SetEnabled(true)
	return s
}

// HandleEvent dispatches one focus transition.
func (s *Scheduler) HandleEvent(ev domain.AppEvent) {
	if ev.PID <= 0 || ev.PID == s.selfPID {
		return
	}
	switch ev.Kind {
	case domain.EventActivated:
		s.Activate(ev.PID)
	case domain.EventDeactivated:
		s.Deactivate(ev.PID, ev.BundleID, ev.DisplayName)
	default:
		s.logger.Debug("ignoring unknown event", zap.Int("pid", ev.PID), zap.Int("kind", int(ev.Kind)))
	}
}

// Activate cancels any pending suspend for pid and resumes it unconditionally.
func (s *Scheduler) Activate(pid int) {
	if s.table.Cancel(pid) {
		s.metrics.IncCanceled()
		s.logger.Debug("pending suspend canceled", zap.Int("pid", pid))
	}
	s.resume(pid)
	s.forgetSuspended(pid)
}

// Deactivate arms a suspend for pid if enabled and a rule matches.
func (s *Scheduler) Deactivate(pid int, bundleID, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return
	}

	rule, ok := s.rules.Load().Match(bundleID, displayName)
	if !ok {
		return
	}

	s.table.Schedule(pid, rule.Delay, func() {
		s.suspend(pid, bundleID)
	})
	s.logger.Debug("suspend scheduled",
		zap.Int("pid", pid),
		zap.String("bundle_id", bundleID),
		zap.String("name", displayName),
		zap.Duration("delay", rule.Delay))
}

// suspend runs from a timer with the table lock held.
func (s *Scheduler) suspend(pid int, bundleID string) {
	if err := s.sink.Pause(pid); err != nil {
		s.metrics.IncSignalError("pause")
		s.logger.Debug("pause failed (process gone?)", zap.Int("pid", pid), zap.Error(err))
		return
	}
	s.metrics.IncPause()

	rec := domain.SuspendedProcess{PID: pid, BundleID: bundleID, SuspendedAt: time.Now()}
	s.suspendedMu.Lock()
	s.suspended[pid] = rec
	s.journal.enqueue(journalOp{rec: rec})
	s.suspendedMu.Unlock()

	s.logger.Info("process suspended", zap.Int("pid", pid), zap.String("bundle_id", bundleID))
}

func (s *Scheduler) resume(pid int) {
	if err := s.sink.Resume(pid); err != nil {
		s.metrics.IncSignalError("resume")
		s.logger.Debug("resume failed (process gone?)", zap.Int("pid", pid), zap.Error(err))
		return
	}
	s.metrics.IncResume()
}

func (s *Scheduler) forgetSuspended(pid int) {
	s.suspendedMu.Lock()
	rec, ok := s.suspended[pid]
	delete(s.suspended, pid)
	if ok {
		s.journal.enqueue(journalOp{resumed: true, rec: rec})
	}
	s.suspendedMu.Unlock()

	if ok {
		s.logger.Info("process resumed", zap.Int("pid", pid))
	}
}

// IsEnabled reports whether deactivations are currently scheduled.
func (s *Scheduler) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled changes the global flag. Disabling cancels every pending suspend and
// resumes every affected or suspended pid; the resumed pids are returned.
func (s *Scheduler) SetEnabled(enabled bool) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setEnabledLocked(enabled)
}

// Toggle flips the global flag and returns the new value.
func (s *Scheduler) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setEnabledLocked(!s.enabled)
	return s.enabled
}

func (s *Scheduler) setEnabledLocked(enabled bool) []int {
	s.enabled = enabled
	s.metrics.SetEnabled(enabled)
	s.logger.Info("suspension state changed", zap.Bool("enabled", enabled))
	if enabled {
		return nil
	}
	return s.sweepLocked()
}

// Sweep cancels everything pending and resumes every pending or suspended pid
// exactly once, without touching the enabled flag. Repeated calls are no-ops.
func (s *Scheduler) Sweep() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Scheduler) sweepLocked() []int {
	pending := s.table.CancelAll()

	s.suspendedMu.Lock()
	suspended := s.suspended
	s.suspended = make(map[int]domain.SuspendedProcess)
	s.suspendedMu.Unlock()

	targets := make(map[int]struct{}, len(pending)+len(suspended))
	for _, pid := range pending {
		targets[pid] = struct{}{}
	}
	for pid := range suspended {
		targets[pid] = struct{}{}
	}
	if len(targets) == 0 {
		return nil
	}

	pids := make([]int, 0, len(targets))
	for pid := range targets {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	// s.mu is held, so no suspend for these pids can be journaled before
	// the resumed records below.
	for _, pid := range pids {
		s.resume(pid)
		if rec, ok := suspended[pid]; ok {
			s.journal.enqueue(journalOp{resumed: true, rec: rec})
		}
	}

	s.logger.Info("resumed all processes",
		zap.Int("pending_canceled", len(pending)),
		zap.Int("suspended_resumed", len(suspended)))
	return pids
}

// SetRules atomically installs a new rule set. Armed timers keep their delay.
func (s *Scheduler) SetRules(rs *policy.RuleSet) {
	s.rules.Swap(rs)
}

// FlushJournal blocks until every journal write queued so far has been
// applied. Without a journal it returns immediately.
func (s *Scheduler) FlushJournal() {
	s.journal.flush()
}

// Rules returns the active rule set.
func (s *Scheduler) Rules() *policy.RuleSet {
	return s.rules.Load()
}

// Pending lists armed suspends.
func (s *Scheduler) Pending() []PendingInfo {
	return s.table.Snapshot()
}

// Suspended lists pids paused by this scheduler and not yet resumed.
func (s *Scheduler) Suspended() []int {
	s.suspendedMu.Lock()
	defer s.suspendedMu.Unlock()

	pids := make([]int, 0, len(s.suspended))
	for pid := range s.suspended {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Status returns a point-in-time view for display.
func (s *Scheduler) Status() domain.Status {
	pending := s.table.Snapshot()
	pids := make([]int, len(pending))
	for i, p := range pending {
		pids[i] = p.PID
	}
	return domain.Status{
		Enabled:    s.IsEnabled(),
		RuleCount:  s.Rules().Len(),
		PendingPID: pids,
		Suspended:  s.Suspended(),
	}
}
