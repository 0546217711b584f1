package usecase

import (
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

type journalOp struct {
	resumed bool
	rec     domain.SuspendedProcess
}

// journalQueue applies journal writes in submission order on a background
// goroutine, so timer callbacks and activations never wait on disk.
// The goroutine exists only while writes are queued.
type journalQueue struct {
	journal domain.SuspensionJournal
	logger  *zap.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	ops      []journalOp
	draining bool
}

func newJournalQueue(journal domain.SuspensionJournal, logger *zap.Logger) *journalQueue {
	q := &journalQueue{journal: journal, logger: logger}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// enqueue never blocks on I/O. A nil queue drops the write.
func (q *journalQueue) enqueue(op journalOp) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

func (q *journalQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.ops) == 0 {
			q.draining = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()

		q.apply(op)
	}
}

func (q *journalQueue) apply(op journalOp) {
	if op.resumed {
		if err := q.journal.MarkResumed(op.rec.PID); err != nil {
			q.logger.Warn("failed to update journal", zap.Int("pid", op.rec.PID), zap.Error(err))
		}
		return
	}
	if err := q.journal.MarkSuspended(op.rec); err != nil {
		q.logger.Warn("failed to journal suspended process", zap.Int("pid", op.rec.PID), zap.Error(err))
	}
}

// flush waits until every queued write has been applied.
func (q *journalQueue) flush() {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.draining {
		q.idle.Wait()
	}
}
