package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument identifies one stock on one venue.
type Instrument struct {
	Venue  string `json:"venue" yaml:"venue"`
	Symbol string `json:"symbol" yaml:"symbol"`
}

// Validate checks both parts are present.
func (i Instrument) Validate() error {
	if i.Venue == "" || i.Symbol == "" {
		return fmt.Errorf("%w: venue=%q symbol=%q", ErrInvalidInstrument, i.Venue, i.Symbol)
	}
	return nil
}

func (i Instrument) String() string {
	return i.Venue + ":" + i.Symbol
}

// Quote is the venue's top-of-book summary. Prices are integer cents; a
// missing side is reported as nil.
type Quote struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Bid       *int64    `json:"bid,omitempty"`
	Ask       *int64    `json:"ask,omitempty"`
	BidSize   int64     `json:"bidSize"`
	AskSize   int64     `json:"askSize"`
	BidDepth  int64     `json:"bidDepth"`
	AskDepth  int64     `json:"askDepth"`
	Last      *int64    `json:"last,omitempty"`
	LastSize  int64     `json:"lastSize"`
	LastTrade time.Time `json:"lastTrade"`
	QuoteTime time.Time `json:"quoteTime"`
}

// HasBothSides reports whether both a bid and an ask are present.
func (q *Quote) HasBothSides() bool {
	return q.Bid != nil && q.Ask != nil
}

// PriceLevel is one aggregated row of an order book side.
type PriceLevel struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
	IsBuy bool  `json:"isBuy"`
}

// OrderBook is a read-only snapshot. Asks ascend by price, bids descend.
// Either side may be empty.
type OrderBook struct {
	Venue  string       `json:"venue"`
	Symbol string       `json:"symbol"`
	Asks   []PriceLevel `json:"asks"`
	Bids   []PriceLevel `json:"bids"`
	Ts     time.Time    `json:"ts"`
}

// BestBid returns the top bid level, if any.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// CentsToDollars converts integer cents into a display decimal.
func CentsToDollars(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
