package usecase

import (
	"sort"
	"sync"
	"time"
)

// Timer is the handle of an armed deferred call.
type Timer interface {
	// Stop prevents the call from starting. It reports false if the call already started.
	Stop() bool
}

// AfterFunc arms f to run on its own goroutine after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// pendingAction is one armed suspend. token identifies this arming so a timer
// that lost the race with Cancel or a newer Schedule can recognise itself as stale.
type pendingAction struct {
	timer   Timer
	token   uint64
	armedAt time.Time
	delay   time.Duration
}

// PendingInfo describes an armed action for status output.
type PendingInfo struct {
	PID     int
	ArmedAt time.Time
	Delay   time.Duration
}

// PendingTable tracks at most one scheduled suspend per pid.
// Schedule, Cancel, CancelAll and timer completion are serialized by one mutex.
type PendingTable struct {
	mu        sync.Mutex
	actions   map[int]*pendingAction
	lastToken uint64
	afterFunc AfterFunc
	now       func() time.Time
}

// NewPendingTable creates a table backed by time.AfterFunc.
func NewPendingTable() *PendingTable {
	return NewPendingTableWithTimer(realAfterFunc)
}

// NewPendingTableWithTimer creates a table with a custom timer source (for testing).
func NewPendingTableWithTimer(after AfterFunc) *PendingTable {
	return &PendingTable{
		actions:   make(map[int]*pendingAction),
		afterFunc: after,
		now:       time.Now,
	}
}

// Schedule replaces any pending action for pid with one that runs onFire after delay.
//
// onFire runs while the table lock is held, after the entry has been removed.
// It must not call back into the table.
func (t *PendingTable) Schedule(pid int, delay time.Duration, onFire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked(pid)

	t.lastToken++
	token := t.lastToken
	pa := &pendingAction{
		token:   token,
		armedAt: t.now(),
		delay:   delay,
	}
	t.actions[pid] = pa
	pa.timer = t.afterFunc(delay, func() {
		t.fire(pid, token, onFire)
	})
}

// fire runs onFire only if the arming identified by token is still current.
func (t *PendingTable) fire(pid int, token uint64, onFire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pa, ok := t.actions[pid]
	if !ok || pa.token != token {
		return
	}
	delete(t.actions, pid)
	onFire()
}

// Cancel disarms the pending action for pid. It reports whether one existed.
// Once Cancel returns, the canceled onFire will never run.
func (t *PendingTable) Cancel(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelLocked(pid)
}

func (t *PendingTable) cancelLocked(pid int) bool {
	pa, ok := t.actions[pid]
	if !ok {
		return false
	}
	if pa.timer != nil {
		pa.timer.Stop()
	}
	delete(t.actions, pid)
	return true
}

// CancelAll disarms every pending action and returns the affected pids in ascending order.
func (t *PendingTable) CancelAll() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	pids := make([]int, 0, len(t.actions))
	for pid := range t.actions {
		t.cancelLocked(pid)
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Has reports whether pid has an armed action.
func (t *PendingTable) Has(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.actions[pid]
	return ok
}

// Len returns the number of armed actions.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actions)
}

// Snapshot lists armed actions ordered by pid.
func (t *PendingTable) Snapshot() []PendingInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingInfo, 0, len(t.actions))
	for pid, pa := range t.actions {
		out = append(out, PendingInfo{PID: pid, ArmedAt: pa.armedAt, Delay: pa.delay})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}
