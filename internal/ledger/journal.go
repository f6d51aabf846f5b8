package ledger

import (
	"log/slog"
	"sync"

	"stockpurse/internal/domain"
)

// journalEntry is one queued write: an order state or a batch of warnings.
type journalEntry struct {
	order    *domain.Order
	warnings []domain.ConsistencyWarning
}

// journalQueue feeds a single writer goroutine. push never blocks on I/O, so
// it is safe to call with the ledger lock held; entries are written in push
// order.
type journalQueue struct {
	journal Journal
	logger  *slog.Logger

	mu      sync.Mutex
	pending []journalEntry
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newJournalQueue(j Journal, logger *slog.Logger) *journalQueue {
	q := &journalQueue{
		journal: j,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *journalQueue) push(e journalEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("Journal closed, dropping entry")
		return
	}
	q.pending = append(q.pending, e)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *journalQueue) run() {
	defer close(q.done)
	for range q.wake {
		q.drain()
	}
	q.drain()
}

func (q *journalQueue) drain() {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			q.write(e)
		}
	}
}

func (q *journalQueue) write(e journalEntry) {
	if e.order != nil {
		if err := q.journal.SaveOrder(e.order); err != nil {
			q.logger.Error("Failed to journal order", slog.Int64("id", int64(e.order.ID)), slog.Any("error", err))
		}
	}
	if len(e.warnings) > 0 {
		if err := q.journal.SaveWarnings(e.warnings); err != nil {
			q.logger.Error("Failed to journal warnings", slog.Any("error", err))
		}
	}
}

// close writes everything already queued and stops the writer. Safe to call twice.
func (q *journalQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.done
}
