package strategy

import (
	"fmt"

	"stockpurse/internal/domain"
)

// Action is one limit order a strategy wants placed this round.
type Action struct {
	Direction domain.Direction
	Price     int64
	Qty       int64
}

func (a Action) String() string {
	return fmt.Sprintf("%s %d@%d", a.Direction, a.Qty, a.Price)
}

// MarketView is what a strategy sees at the start of a round.
type MarketView struct {
	Book     *domain.OrderBook
	Position int64
}

// Strategy is the interface that all trading strategies must implement.
// It is called synchronously by the round Runner, once per round, and must
// not perform I/O. Actions are executed in the order returned.
type Strategy interface {
	Name() string
	Plan(view MarketView) []Action
}
