package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockpurse/internal/domain"
)

var (
	// ErrDuplicateOrder is returned when an order id is recorded twice.
	ErrDuplicateOrder = errors.New("order already recorded")

	// ErrNoVenue is returned by venue-backed operations on a bookkeeping-only ledger.
	ErrNoVenue = errors.New("ledger has no venue")
)

// Buy places a buy order for this ledger's account and instrument.
// A nil price sends a market order.
func (l *Ledger) Buy(ctx context.Context, typ domain.OrderType, qty int64, price *int64) (*domain.Order, error) {
	return l.Place(ctx, domain.DirectionBuy, typ, qty, price)
}

// Sell places a sell order for this ledger's account and instrument.
func (l *Ledger) Sell(ctx context.Context, typ domain.OrderType, qty int64, price *int64) (*domain.Order, error) {
	return l.Place(ctx, domain.DirectionSell, typ, qty, price)
}

// Place sends an order and records the venue's answer. On a venue error
// nothing is recorded. A *domain.ConsistencyError return accompanies a
// successfully recorded order.
func (l *Ledger) Place(ctx context.Context, dir domain.Direction, typ domain.OrderType, qty int64, price *int64) (*domain.Order, error) {
	if l.venue == nil {
		return nil, ErrNoVenue
	}

	req := domain.OrderRequest{
		Account:   l.account,
		Venue:     l.inst.Venue,
		Stock:     l.inst.Symbol,
		Direction: dir,
		Type:      typ,
		Qty:       qty,
		Price:     price,
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid order request: %w", err)
	}

	start := time.Now()
	resp, err := l.venue.PlaceOrder(ctx, req)
	l.metrics.RecordVenueCall(time.Since(start))
	if err != nil {
		l.metrics.RecordError()
		return nil, fmt.Errorf("place %s %d: %w", dir, qty, err)
	}
	l.metrics.RecordOrderPlaced()

	// The venue now holds this order, so it is filed even when the echoed
	// account or instrument disagrees; the disagreement is in warnings.
	o, warnings := domain.NewOrder(req, resp)
	recorded, err := l.record(o, warnings)
	if err != nil {
		l.metrics.RecordError()
		return nil, err
	}
	return recorded, domain.AsError(warnings)
}

// Cancel asks the venue to cancel an order and applies the response.
// Unknown ids fail with domain.ErrUnknownOrder; closed orders are returned
// as they are without contacting the venue.
func (l *Ledger) Cancel(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	o, ok := l.Order(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownOrder, id)
	}
	if !o.IsOpen() {
		return o, nil
	}
	if l.venue == nil {
		return nil, ErrNoVenue
	}

	start := time.Now()
	resp, err := l.venue.CancelOrder(ctx, l.inst, id)
	l.metrics.RecordVenueCall(time.Since(start))
	if err != nil {
		l.metrics.RecordError()
		return nil, fmt.Errorf("cancel %d: %w", id, err)
	}
	return l.RecordCancel(id, resp)
}

// CancelAll cancels every open order, bids first. A failed cancel does not
// stop the remaining ones; failures are joined into the returned error and
// the map holds every order that was processed.
func (l *Ledger) CancelAll(ctx context.Context) (map[domain.OrderID]*domain.Order, error) {
	open := append(l.OpenBids(), l.OpenAsks()...)
	result := make(map[domain.OrderID]*domain.Order, len(open))

	var errs []error
	for _, o := range open {
		cancelled, err := l.Cancel(ctx, o.ID)
		if cancelled != nil {
			result[o.ID] = cancelled
		}
		if err != nil {
			l.logger.Warn("Cancel failed", slog.Int64("id", int64(o.ID)), slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return result, errors.Join(errs...)
}

// Refresh re-reads an order's status from the venue and applies it.
func (l *Ledger) Refresh(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	if _, ok := l.Order(id); !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrUnknownOrder, id)
	}
	if l.venue == nil {
		return nil, ErrNoVenue
	}

	start := time.Now()
	resp, err := l.venue.OrderStatus(ctx, l.inst, id)
	l.metrics.RecordVenueCall(time.Since(start))
	if err != nil {
		l.metrics.RecordError()
		return nil, fmt.Errorf("status %d: %w", id, err)
	}
	return l.RecordUpdate(id, resp)
}

// Quote fetches the venue quote and marks the position to its last trade.
func (l *Ledger) Quote(ctx context.Context) (*domain.Quote, error) {
	if l.venue == nil {
		return nil, ErrNoVenue
	}

	start := time.Now()
	q, err := l.venue.Quote(ctx, l.inst)
	l.metrics.RecordVenueCall(time.Since(start))
	if err != nil {
		l.metrics.RecordError()
		return nil, err
	}
	l.ObserveQuote(q)
	return q, nil
}

// ObserveQuote marks the position to a quote's last trade, if it has one.
func (l *Ledger) ObserveQuote(q *domain.Quote) {
	if q != nil && q.Last != nil {
		l.MarkPrice(*q.Last)
	}
}

// OrderBook fetches a book snapshot. It does not change ledger state.
func (l *Ledger) OrderBook(ctx context.Context) (*domain.OrderBook, error) {
	if l.venue == nil {
		return nil, ErrNoVenue
	}

	start := time.Now()
	book, err := l.venue.OrderBook(ctx, l.inst)
	l.metrics.RecordVenueCall(time.Since(start))
	if err != nil {
		l.metrics.RecordError()
		return nil, err
	}
	return book, nil
}
