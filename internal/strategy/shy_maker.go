package strategy

import (
	"errors"
	"slices"

	"stockpurse/internal/domain"
	"stockpurse/internal/pricing"
)

// ShyMakerConfig tunes ShyMaker. Prices are cents, quantities shares.
type ShyMakerConfig struct {
	// QtyMarks are cumulative book depths; one price per mark is quoted.
	QtyMarks []int64
	// Qtys is the order size sent at each mark's price.
	Qtys []int64

	PriceDeltaFallback int64

	// Every full QtyTolerance of inventory moves the quotes on the heavy
	// side by ToleranceAdjust.
	QtyTolerance    int64
	ToleranceAdjust int64

	// A single book level above InformedQty makes the book untrusted.
	InformedQty     int64
	InformedPenalty int64

	// PositionLimit bounds the position reachable if every order filled.
	PositionLimit int64
}

// Validate checks the schedule is usable.
func (c ShyMakerConfig) Validate() error {
	if len(c.QtyMarks) == 0 || len(c.Qtys) == 0 {
		return errors.New("shy maker: qty marks and qtys are required")
	}
	if !slices.IsSorted(c.QtyMarks) {
		return errors.New("shy maker: qty marks must ascend")
	}
	if c.QtyTolerance <= 0 {
		return errors.New("shy maker: qty tolerance must be positive")
	}
	if c.PositionLimit <= 0 {
		return errors.New("shy maker: position limit must be positive")
	}
	return nil
}

// ShyMaker quotes both sides at the prices needed to trade through fixed
// book depths. When the book shows an outsized resting order it stops
// trusting depth and reuses the last trusted prices, widened by a penalty.
// It is stateful across rounds and not safe for concurrent use.
type ShyMaker struct {
	cfg ShyMakerConfig

	lastAsks []int64
	lastBids []int64
	informed bool
}

// NewShyMaker creates a new instance.
func NewShyMaker(cfg ShyMakerConfig) (*ShyMaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ShyMaker{cfg: cfg}, nil
}

func (s *ShyMaker) Name() string { return "shy_maker" }

// Informed reports whether the last planned round saw an informed book.
func (s *ShyMaker) Informed() bool { return s.informed }

// Plan returns bids lowest price first, then asks best price first.
func (s *ShyMaker) Plan(view MarketView) []Action {
	if view.Book == nil {
		return nil
	}

	var asks, bids []int64
	s.informed = pricing.AnyInformedOrders(view.Book, s.cfg.InformedQty)
	if s.informed {
		asks, bids = pricing.PenalizePrices(s.lastAsks, s.lastBids, s.cfg.InformedPenalty)
	} else {
		asks, bids = pricing.BookPrices(view.Book, s.cfg.QtyMarks, s.cfg.PriceDeltaFallback)
		s.lastAsks = slices.Clone(asks)
		s.lastBids = slices.Clone(bids)
	}

	asks, bids = s.skew(asks, bids, view.Position)

	asks = asks[:min(len(asks), pricing.IdxCumsumGT(s.cfg.Qtys, s.cfg.PositionLimit+view.Position))]
	bids = bids[:min(len(bids), pricing.IdxCumsumGT(s.cfg.Qtys, s.cfg.PositionLimit-view.Position))]

	actions := make([]Action, 0, len(asks)+len(bids))
	for i := min(len(bids), len(s.cfg.Qtys)) - 1; i >= 0; i-- {
		actions = append(actions, Action{Direction: domain.DirectionBuy, Price: bids[i], Qty: s.cfg.Qtys[i]})
	}
	for i := 0; i < min(len(asks), len(s.cfg.Qtys)); i++ {
		actions = append(actions, Action{Direction: domain.DirectionSell, Price: asks[i], Qty: s.cfg.Qtys[i]})
	}
	return actions
}

// skew leans the heavy side away from the market: long inventory lowers
// bids, short inventory raises asks.
func (s *ShyMaker) skew(asks, bids []int64, position int64) ([]int64, []int64) {
	abs := position
	if abs < 0 {
		abs = -abs
	}
	adjust := (abs / s.cfg.QtyTolerance) * s.cfg.ToleranceAdjust

	switch {
	case position < -s.cfg.QtyTolerance:
		out := make([]int64, len(asks))
		for i, p := range asks {
			out[i] = p + adjust
		}
		asks = out
	case position > s.cfg.QtyTolerance:
		out := make([]int64, len(bids))
		for i, p := range bids {
			out[i] = max(p-adjust, 0)
		}
		bids = out
	}
	return asks, bids
}
