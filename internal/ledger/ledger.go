// Package ledger tracks position and basis for one account on one instrument
// by folding venue order observations into running totals.
//
// The ledger never recomputes from the full order list. Every observation is
// diffed against what the order already contributed and only the delta is
// applied, so a cancel response that reports a late fill is counted exactly
// once.
package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"stockpurse/internal/domain"
	"stockpurse/internal/infra"
	"stockpurse/pkg/safe"
)

// Journal receives a copy of every order state change and warning. Writes
// run on a background goroutine in the order the changes happened; failures
// are logged and never block bookkeeping.
type Journal interface {
	SaveOrder(o *domain.Order) error
	SaveWarnings(ws []domain.ConsistencyWarning) error
}

// Config seeds a ledger.
type Config struct {
	Account    string
	Instrument domain.Instrument
	Position   int64
	Basis      int64
}

// Ledger owns the orders of one account+instrument pair. All mutations are
// serialized by mu; readers only ever see clones.
type Ledger struct {
	mu sync.RWMutex

	account string
	inst    domain.Instrument

	position  int64
	basis     int64
	lastPrice int64
	hasLast   bool

	orders map[domain.OrderID]*domain.Order

	venue   domain.Venue
	journal *journalQueue
	metrics *infra.Metrics
	logger  *slog.Logger
}

// New creates a ledger. venue may be nil for pure bookkeeping; journal may be nil.
// With a journal, call Close when done so queued writes are flushed.
func New(cfg Config, venue domain.Venue, journal Journal) *Ledger {
	l := &Ledger{
		account:  cfg.Account,
		inst:     cfg.Instrument,
		position: cfg.Position,
		basis:    cfg.Basis,
		orders:   make(map[domain.OrderID]*domain.Order),
		venue:    venue,
		metrics:  infra.GlobalMetrics,
		logger: slog.Default().With(
			"module", "ledger",
			"account", cfg.Account,
			"instrument", cfg.Instrument.String(),
		),
	}
	if journal != nil {
		l.journal = newJournalQueue(journal, l.logger)
	}
	return l
}

// Account returns the trading account.
func (l *Ledger) Account() string { return l.account }

// Instrument returns the venue/stock pair.
func (l *Ledger) Instrument() domain.Instrument { return l.inst }

// RecordOrder integrates a freshly created order: buys add to position, sells
// subtract, the order's signed cost is taken out of basis, and the last fill
// price becomes the mark. Orders for another account or instrument are
// refused; Place files whatever the venue acknowledged instead.
func (l *Ledger) RecordOrder(o *domain.Order) error {
	if o.Account != l.account || o.Venue != l.inst.Venue || o.Symbol != l.inst.Symbol {
		return fmt.Errorf("%w: order %d is %s on %s:%s", domain.ErrInstrumentMismatch,
			o.ID, o.Account, o.Venue, o.Symbol)
	}
	_, err := l.record(o, nil)
	return err
}

// record files a copy of o together with the warnings raised while building
// it, and returns a clone taken under the same lock.
func (l *Ledger) record(o *domain.Order, warnings []domain.ConsistencyWarning) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[o.ID]; exists {
		l.warnLocked(warnings)
		return nil, fmt.Errorf("%w: %d", ErrDuplicateOrder, o.ID)
	}

	stored := o.Clone()
	l.applyLocked(domain.Delta{Cost: stored.Cost(), Position: stored.PositionDelta(), NewFills: stored.Fills})
	if p, ok := stored.LastFillPrice(); ok {
		l.lastPrice, l.hasLast = p, true
	}
	l.orders[stored.ID] = stored
	l.saveLocked(stored)
	l.warnLocked(warnings)

	l.logger.Debug("ORDER_RECORDED",
		slog.Int64("id", int64(stored.ID)),
		slog.String("direction", string(stored.Direction)),
		slog.Int64("qty", stored.Qty),
		slog.Int64("filled", stored.TotalFilled),
		slog.Bool("open", stored.Open),
		slog.Int64("position", l.position),
		slog.Int64("basis", l.basis),
	)
	return stored.Clone(), nil
}

// RecordCancel applies a cancel response and closes the order. Cancelling an
// order that is already closed returns it unchanged. The returned error is a
// *domain.ConsistencyError when the response was applied but looked wrong.
func (l *Ledger) RecordCancel(id domain.OrderID, resp *domain.OrderResponse) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownOrder, id)
	}
	if !o.IsOpen() {
		return o.Clone(), nil
	}

	warnings := l.observeLocked(o, resp)
	if resp.Open {
		warnings = append(warnings, domain.ConsistencyWarning{
			OrderID: id, Kind: domain.WarnOpenAfterCancel, Field: "open", Expected: "false", Got: "true",
		})
	}
	o.MarkClosed()
	l.metrics.RecordOrderCancelled()
	l.saveLocked(o)
	l.warnLocked(warnings)

	return o.Clone(), domain.AsError(warnings)
}

// RecordUpdate applies a later observation of an order (status read or
// execution report) without forcing it closed.
func (l *Ledger) RecordUpdate(id domain.OrderID, resp *domain.OrderResponse) (*domain.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o, ok := l.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownOrder, id)
	}

	warnings := l.observeLocked(o, resp)
	l.saveLocked(o)
	l.warnLocked(warnings)

	return o.Clone(), domain.AsError(warnings)
}

// observeLocked folds resp into o and the aggregates in one step.
func (l *Ledger) observeLocked(o *domain.Order, resp *domain.OrderResponse) []domain.ConsistencyWarning {
	delta, warnings := o.Apply(resp)
	l.applyLocked(delta)
	if len(delta.NewFills) > 0 {
		if p, ok := o.LastFillPrice(); ok {
			l.lastPrice, l.hasLast = p, true
		}
	}
	return warnings
}

func (l *Ledger) applyLocked(d domain.Delta) {
	l.position = safe.SafeAdd(l.position, d.Position)
	l.basis = safe.SafeSub(l.basis, d.Cost)

	var shares int64
	for _, f := range d.NewFills {
		shares += f.Qty
	}
	l.metrics.RecordFills(len(d.NewFills), shares)
	l.metrics.SetBook(l.position, l.basis)
}

// saveLocked queues a copy of o for the journal; the write happens off the lock.
func (l *Ledger) saveLocked(o *domain.Order) {
	if l.journal == nil {
		return
	}
	l.journal.push(journalEntry{order: o.Clone()})
}

func (l *Ledger) warnLocked(warnings []domain.ConsistencyWarning) {
	if len(warnings) == 0 {
		return
	}
	for _, w := range warnings {
		l.logger.Warn("CONSISTENCY_WARNING",
			slog.Int64("id", int64(w.OrderID)),
			slog.String("kind", string(w.Kind)),
			slog.String("field", w.Field),
			slog.String("expected", w.Expected),
			slog.String("got", w.Got),
		)
	}
	l.metrics.RecordWarnings(len(warnings))
	if l.journal != nil {
		l.journal.push(journalEntry{warnings: append([]domain.ConsistencyWarning(nil), warnings...)})
	}
}

// Close flushes pending journal writes and stops the writer. Later changes
// are still tracked but no longer journaled.
func (l *Ledger) Close() {
	if l.journal != nil {
		l.journal.close()
	}
}

// MarkPrice sets the price used to value the position, e.g. from a quote.
func (l *Ledger) MarkPrice(price int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPrice, l.hasLast = price, true
}

// Position returns signed shares held.
func (l *Ledger) Position() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.position
}

// Basis returns the signed cumulative cash flow in cents. Buying lowers it,
// selling raises it.
func (l *Ledger) Basis() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.basis
}

// LastPrice returns the mark price, if any fill or quote has set one.
func (l *Ledger) LastPrice() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastPrice, l.hasLast
}

// Value returns basis + last price * position. With an open position and no
// mark it fails with domain.ErrNoMarkPrice.
func (l *Ledger) Value() (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.valueLocked()
}

func (l *Ledger) valueLocked() (int64, error) {
	if l.position == 0 {
		return l.basis, nil
	}
	if !l.hasLast {
		return 0, domain.ErrNoMarkPrice
	}
	return safe.SafeAdd(l.basis, safe.SafeMul(l.lastPrice, l.position)), nil
}

// ValueAt values the position at an explicit mark.
func (l *Ledger) ValueAt(mark int64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return safe.SafeAdd(l.basis, safe.SafeMul(mark, l.position))
}

// PositionWithOpenAsks is the worst-case position if every resting ask filled.
func (l *Ledger) PositionWithOpenAsks() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos := l.position
	for _, o := range l.orders {
		if o.IsAsk() && o.IsOpen() {
			pos = safe.SafeSub(pos, o.Resting())
		}
	}
	return pos
}

// PositionWithOpenBids is the worst-case position if every resting bid filled.
func (l *Ledger) PositionWithOpenBids() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos := l.position
	for _, o := range l.orders {
		if o.IsBid() && o.IsOpen() {
			pos = safe.SafeAdd(pos, o.Resting())
		}
	}
	return pos
}

// QtyFilled returns the filled quantity of a recorded order.
func (l *Ledger) QtyFilled(id domain.OrderID) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", domain.ErrUnknownOrder, id)
	}
	return o.TotalFilled, nil
}

// Order returns a copy of a recorded order.
func (l *Ledger) Order(id domain.OrderID) (*domain.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// OpenBids returns open buy orders sorted by id.
func (l *Ledger) OpenBids() []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.IsBid() && o.IsOpen() })
}

// OpenAsks returns open sell orders sorted by id.
func (l *Ledger) OpenAsks() []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.IsAsk() && o.IsOpen() })
}

// ClosedBids returns closed buy orders sorted by id.
func (l *Ledger) ClosedBids() []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.IsBid() && !o.IsOpen() })
}

// ClosedAsks returns closed sell orders sorted by id.
func (l *Ledger) ClosedAsks() []*domain.Order {
	return l.filter(func(o *domain.Order) bool { return o.IsAsk() && !o.IsOpen() })
}

func (l *Ledger) filter(keep func(*domain.Order) bool) []*domain.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filterLocked(keep)
}

func (l *Ledger) filterLocked(keep func(*domain.Order) bool) []*domain.Order {
	out := make([]*domain.Order, 0)
	for _, o := range l.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot is a consistent point-in-time copy of the ledger.
type Snapshot struct {
	Account    string            `json:"account"`
	Instrument domain.Instrument `json:"instrument"`
	Position   int64             `json:"position"`
	Basis      int64             `json:"basis"`
	LastPrice  *int64            `json:"last_price,omitempty"`
	Value      *int64            `json:"value,omitempty"`

	PositionWithOpenAsks int64 `json:"position_with_open_asks"`
	PositionWithOpenBids int64 `json:"position_with_open_bids"`

	OpenBids   []*domain.Order `json:"open_bids"`
	OpenAsks   []*domain.Order `json:"open_asks"`
	ClosedBids []*domain.Order `json:"closed_bids"`
	ClosedAsks []*domain.Order `json:"closed_asks"`
}

// Snapshot returns every figure under a single read lock.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		Account:    l.account,
		Instrument: l.inst,
		Position:   l.position,
		Basis:      l.basis,
		OpenBids:   l.filterLocked(func(o *domain.Order) bool { return o.IsBid() && o.IsOpen() }),
		OpenAsks:   l.filterLocked(func(o *domain.Order) bool { return o.IsAsk() && o.IsOpen() }),
		ClosedBids: l.filterLocked(func(o *domain.Order) bool { return o.IsBid() && !o.IsOpen() }),
		ClosedAsks: l.filterLocked(func(o *domain.Order) bool { return o.IsAsk() && !o.IsOpen() }),
	}
	if l.hasLast {
		last := l.lastPrice
		s.LastPrice = &last
	}
	if v, err := l.valueLocked(); err == nil {
		s.Value = &v
	}

	s.PositionWithOpenAsks = s.Position
	for _, o := range s.OpenAsks {
		s.PositionWithOpenAsks -= o.Resting()
	}
	s.PositionWithOpenBids = s.Position
	for _, o := range s.OpenBids {
		s.PositionWithOpenBids += o.Resting()
	}
	return s
}
