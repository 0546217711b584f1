package daemon

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
	"github.com/eliteGoblin/focusd/app_freeze/internal/metrics"
	"github.com/eliteGoblin/focusd/app_freeze/internal/policy"
	"github.com/eliteGoblin/focusd/app_freeze/internal/usecase"
)

// stubRules is a RuleSource whose result can be swapped between calls.
type stubRules struct {
	mu    sync.Mutex
	rules []domain.Rule
	err   error
	loads int
}

func (s *stubRules) LoadRules() ([]domain.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.Rule(nil), s.rules...), nil
}

func (s *stubRules) Location() string { return "stub" }

func (s *stubRules) set(rules []domain.Rule, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules, s.err = rules, err
}

// signalLog records Pause/Resume calls.
type signalLog struct {
	mu     sync.Mutex
	paused map[int]int
	resume map[int]int
}

func newSignalLog() *signalLog {
	return &signalLog{paused: map[int]int{}, resume: map[int]int{}}
}

func (s *signalLog) Pause(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[pid]++
	return nil
}

func (s *signalLog) Resume(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resume[pid]++
	return nil
}

func (s *signalLog) pauses(pid int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[pid]
}

func (s *signalLog) resumes(pid int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resume[pid]
}

// memJournal is an in-memory SuspensionJournal.
type memJournal struct {
	mu      sync.Mutex
	records map[int]domain.SuspendedProcess
	readErr error
}

func newMemJournal(pids ...int) *memJournal {
	j := &memJournal{records: map[int]domain.SuspendedProcess{}}
	for _, pid := range pids {
		j.records[pid] = domain.SuspendedProcess{PID: pid}
	}
	return j
}

func (j *memJournal) MarkSuspended(p domain.SuspendedProcess) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records[p.PID] = p
	return nil
}

func (j *memJournal) MarkResumed(pid int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.records, pid)
	return nil
}

func (j *memJournal) Suspended() ([]domain.SuspendedProcess, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.readErr != nil {
		return nil, j.readErr
	}
	out := make([]domain.SuspendedProcess, 0, len(j.records))
	for _, p := range j.records {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].PID < out[b].PID })
	return out, nil
}

func (j *memJournal) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = map[int]domain.SuspendedProcess{}
	return nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// liveSet answers IsRunning from a fixed set.
type liveSet map[int]bool

func (l liveSet) IsRunning(pid int) bool       { return l[pid] }
func (l liveSet) Name(pid int) (string, error) { return "", errors.New("unsupported") }

// chanSource is an EventSource fed by the test. Run blocks until ctx is done.
type chanSource struct {
	ch chan domain.AppEvent
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan domain.AppEvent)}
}

func (c *chanSource) Run(ctx context.Context, events chan<- domain.AppEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.ch:
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// failingSource returns err immediately.
type failingSource struct{ err error }

func (f failingSource) Run(context.Context, chan<- domain.AppEvent) error { return f.err }

// memRegistry is an in-memory DaemonRegistry.
type memRegistry struct {
	mu         sync.Mutex
	state      *domain.DaemonState
	heartbeats int
	cleared    bool
	regErr     error
}

func (r *memRegistry) Register(s domain.DaemonState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.regErr != nil {
		return r.regErr
	}
	r.state = &s
	return nil
}

func (r *memRegistry) UpdateHeartbeat(enabled bool, ruleCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return domain.ErrDaemonNotRunning
	}
	r.heartbeats++
	r.state.Enabled = enabled
	r.state.RuleCount = ruleCount
	return nil
}

func (r *memRegistry) Get() (*domain.DaemonState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return nil, nil
	}
	s := *r.state
	return &s, nil
}

func (r *memRegistry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = nil
	r.cleared = true
	return nil
}

func (r *memRegistry) Path() string { return "mem" }

func (r *memRegistry) snapshot() (domain.DaemonState, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s domain.DaemonState
	if r.state != nil {
		s = *r.state
	}
	return s, r.heartbeats, r.cleared
}

type fixture struct {
	sink       *signalLog
	journal    *memJournal
	rules      *stubRules
	metrics    *metrics.Metrics
	scheduler  *usecase.Scheduler
	controller *Controller
}

func newFixture(t *testing.T, rules ...domain.Rule) *fixture {
	t.Helper()
	f := &fixture{
		sink:    newSignalLog(),
		journal: newMemJournal(),
		rules:   &stubRules{rules: rules},
		metrics: metrics.New(),
	}
	f.scheduler = usecase.NewSchedulerWithDeps(f.sink, policy.NewStore(nil), usecase.NewPendingTable(), f.journal, f.metrics, zap.NewNop())
	f.controller = NewController(f.scheduler, f.rules, f.journal, f.sink, nil, f.metrics, zap.NewNop())
	return f
}
