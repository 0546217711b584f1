package usecase

import (
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// signalCall is one recorded Pause/Resume.
type signalCall struct {
	op  string
	pid int
}

// recordingSink implements domain.SignalSink for testing
type recordingSink struct {
	mu        sync.Mutex
	calls     []signalCall
	pauseErr  error
	resumeErr error
}

func (r *recordingSink) Pause(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pauseErr != nil {
		return r.pauseErr
	}
	r.calls = append(r.calls, signalCall{op: "pause", pid: pid})
	return nil
}

func (r *recordingSink) Resume(pid int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resumeErr != nil {
		return r.resumeErr
	}
	r.calls = append(r.calls, signalCall{op: "resume", pid: pid})
	return nil
}

func (r *recordingSink) count(op string, pid int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.op == op && c.pid == pid {
			n++
		}
	}
	return n
}

func (r *recordingSink) total(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

// lastOp returns the most recent signal sent to pid, or "" if none.
func (r *recordingSink) lastOp(pid int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].pid == pid {
			return r.calls[i].op
		}
	}
	return ""
}

func (r *recordingSink) pids() map[int]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[int]bool)
	for _, c := range r.calls {
		seen[c.pid] = true
	}
	return seen
}

// manualClock hands out timers that only fire when the test says so.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire runs the callback. When force is set it runs even if stopped, which
// reproduces a timer goroutine that started just before Stop was called.
func (t *manualTimer) fire(force bool) {
	t.mu.Lock()
	if (t.stopped && !force) || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.fn()
}

func (c *manualClock) timer(i int) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers[i]
}

func (c *manualClock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// live counts timers that are neither stopped nor fired.
func (c *manualClock) live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// fireAll fires every live timer.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		t.fire(false)
	}
}

// mockJournal implements domain.SuspensionJournal for testing
type mockJournal struct {
	mu      sync.Mutex
	records map[int]domain.SuspendedProcess
	err     error
}

func newMockJournal() *mockJournal {
	return &mockJournal{records: make(map[int]domain.SuspendedProcess)}
}

func (m *mockJournal) MarkSuspended(p domain.SuspendedProcess) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records[p.PID] = p
	return nil
}

func (m *mockJournal) MarkResumed(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.records, pid)
	return nil
}

func (m *mockJournal) Suspended() ([]domain.SuspendedProcess, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SuspendedProcess, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, m.err
}

func (m *mockJournal) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[int]domain.SuspendedProcess)
	return nil
}

func (m *mockJournal) Close() error { return nil }

func (m *mockJournal) has(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[pid]
	return ok
}

// gatedJournal blocks every write until release is called.
type gatedJournal struct {
	*mockJournal
	gate    chan struct{}
	entered chan int
}

func newGatedJournal() *gatedJournal {
	return &gatedJournal{
		mockJournal: newMockJournal(),
		gate:        make(chan struct{}),
		entered:     make(chan int, 16),
	}
}

func (g *gatedJournal) MarkSuspended(p domain.SuspendedProcess) error {
	g.entered <- p.PID
	<-g.gate
	return g.mockJournal.MarkSuspended(p)
}

func (g *gatedJournal) MarkResumed(pid int) error {
	<-g.gate
	return g.mockJournal.MarkResumed(pid)
}

func (g *gatedJournal) release() {
	close(g.gate)
}
