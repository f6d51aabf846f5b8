package pricing

import "stockpurse/internal/domain"

// AnyInformedOrders reports whether any single level on either side holds
// more than threshold shares. Levels are not summed.
func AnyInformedOrders(book *domain.OrderBook, threshold int64) bool {
	return len(InformedLevels(book, threshold)) > 0
}

// InformedLevels returns the levels whose quantity exceeds threshold, asks
// first.
func InformedLevels(book *domain.OrderBook, threshold int64) []domain.PriceLevel {
	if book == nil {
		return nil
	}
	var out []domain.PriceLevel
	for _, lvl := range book.Asks {
		if lvl.Qty > threshold {
			out = append(out, lvl)
		}
	}
	for _, lvl := range book.Bids {
		if lvl.Qty > threshold {
			out = append(out, lvl)
		}
	}
	return out
}

// PenalizePrices widens a previous round's prices away from the market:
// asks move up by penalty, bids move down and stop at zero. The inputs are
// not modified.
func PenalizePrices(asks, bids []int64, penalty int64) (penAsks, penBids []int64) {
	if len(asks) > 0 {
		penAsks = make([]int64, len(asks))
		for i, p := range asks {
			penAsks[i] = p + penalty
		}
	}
	if len(bids) > 0 {
		penBids = make([]int64, len(bids))
		for i, p := range bids {
			penBids[i] = max(p-penalty, 0)
		}
	}
	return penAsks, penBids
}

// IdxCumsumGT returns the index of the first value at which the running sum
// exceeds threshold, or len(values) if it never does. Slicing a schedule
// with the result keeps only the orders that fit under threshold.
func IdxCumsumGT(values []int64, threshold int64) int {
	var sum int64
	for i, v := range values {
		sum += v
		if sum > threshold {
			return i
		}
	}
	return len(values)
}
