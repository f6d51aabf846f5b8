// Package pricing turns order-book snapshots into quote prices.
package pricing

import "stockpurse/internal/domain"

// Side names the book side being walked.
type Side int

const (
	SideAsks Side = iota + 1
	SideBids
)

func (s Side) String() string {
	switch s {
	case SideAsks:
		return "asks"
	case SideBids:
		return "bids"
	default:
		return "unknown"
	}
}

// PriceTillQty walks levels from the best price outward and returns, for
// each cumulative quantity target, the price of the level at which the target
// is reached. Targets are expected in ascending order.
//
// Targets beyond the visible depth are extrapolated from the last level by
// one fallback step each, moving up for asks and down for bids whatever the
// sign of fallback. Prices never go below zero. A target of zero is priced at
// the best level.
//
// ok is false when levels or targets is empty.
func PriceTillQty(levels []domain.PriceLevel, targets []int64, fallback int64, side Side) (prices []int64, ok bool) {
	if len(levels) == 0 || len(targets) == 0 {
		return nil, false
	}

	step := fallback
	if step < 0 {
		step = -step
	}
	if side == SideBids {
		step = -step
	}

	prices = make([]int64, 0, len(targets))
	var filled int64
	last := levels[0].Price
	ti, li := 0, 0

	for ti < len(targets) && li < len(levels) {
		if filled >= targets[ti] {
			prices = append(prices, max(last, 0))
			ti++
			continue
		}
		filled += levels[li].Qty
		last = levels[li].Price
		li++
	}

	for ; ti < len(targets); ti++ {
		if filled < targets[ti] {
			last += step
		}
		prices = append(prices, max(last, 0))
	}
	return prices, true
}

// BookPrices walks both sides of a book with the same target schedule.
// A side without levels yields nil.
func BookPrices(book *domain.OrderBook, targets []int64, fallback int64) (asks, bids []int64) {
	if book == nil {
		return nil, nil
	}
	asks, _ = PriceTillQty(book.Asks, targets, fallback, SideAsks)
	bids, _ = PriceTillQty(book.Bids, targets, fallback, SideBids)
	return asks, bids
}
