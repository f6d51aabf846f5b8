package domain

import (
	"fmt"
	"strconv"
	"time"

	"stockpurse/pkg/safe"
)

// OrderID is the venue-assigned order identifier. Opaque to the client.
type OrderID int64

func (id OrderID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Direction is the side of an order as the venue spells it.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == DirectionBuy || d == DirectionSell
}

// OrderType is the venue's order type.
type OrderType string

const (
	OrderTypeLimit             OrderType = "limit"
	OrderTypeMarket            OrderType = "market"
	OrderTypeFillOrKill        OrderType = "fill-or-kill"
	OrderTypeImmediateOrCancel OrderType = "immediate-or-cancel"
)

// Fill is one execution against an order. Price is integer cents.
type Fill struct {
	Price int64     `json:"price"`
	Qty   int64     `json:"qty"`
	Ts    time.Time `json:"ts"`
}

func (f Fill) equal(o Fill) bool {
	return f.Price == o.Price && f.Qty == o.Qty && f.Ts.Equal(o.Ts)
}

// OrderRequest holds the parameters of a place-order call.
// A nil Price means a market order.
type OrderRequest struct {
	Account   string    `json:"account"`
	Venue     string    `json:"venue"`
	Stock     string    `json:"stock"`
	Direction Direction `json:"direction"`
	Type      OrderType `json:"orderType"`
	Qty       int64     `json:"qty"`
	Price     *int64    `json:"price,omitempty"`
}

// Instrument returns the venue/stock pair the request targets.
func (r OrderRequest) Instrument() Instrument {
	return Instrument{Venue: r.Venue, Symbol: r.Stock}
}

// RequestedPrice returns the limit price, or 0 for a market order.
func (r OrderRequest) RequestedPrice() int64 {
	if r.Price == nil {
		return 0
	}
	return *r.Price
}

// Validate checks syntactic correctness before the request leaves the process.
func (r OrderRequest) Validate() error {
	if r.Account == "" {
		return fmt.Errorf("account is required")
	}
	if err := r.Instrument().Validate(); err != nil {
		return err
	}
	if !r.Direction.Valid() {
		return fmt.Errorf("invalid direction %q", r.Direction)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("qty must be > 0, got %d", r.Qty)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit, OrderTypeFillOrKill, OrderTypeImmediateOrCancel:
		if r.Price == nil || *r.Price < 0 {
			return fmt.Errorf("%s orders need a non-negative price", r.Type)
		}
	default:
		return fmt.Errorf("invalid order type %q", r.Type)
	}
	return nil
}

// OrderResponse is the decoded body of a place, cancel or status call.
// UnexpectedKeys lists top-level keys the client did not recognise.
type OrderResponse struct {
	ID          OrderID   `json:"id"`
	Ts          time.Time `json:"ts"`
	Account     string    `json:"account"`
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	OrderType   OrderType `json:"orderType"`
	OriginalQty int64     `json:"originalQty"`
	Qty         int64     `json:"qty"`
	Price       int64     `json:"price"`
	Fills       []Fill    `json:"fills"`
	TotalFilled int64     `json:"totalFilled"`
	Open        bool      `json:"open"`

	UnexpectedKeys []string `json:"-"`
}

// FilledQty sums the fill quantities of the response.
func (r *OrderResponse) FilledQty() int64 {
	var sum int64
	for _, f := range r.Fills {
		sum = safe.SafeAdd(sum, f.Qty)
	}
	return sum
}

// Order is the authoritative state of one order as last observed from the
// venue. TotalFilled always equals the sum of Fills quantities.
type Order struct {
	ID          OrderID   `json:"id"`
	Account     string    `json:"account"`
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	Direction   Direction `json:"direction"`
	Type        OrderType `json:"orderType"`
	Qty         int64     `json:"originalQty"`
	Price       int64     `json:"price"`
	Fills       []Fill    `json:"fills"`
	TotalFilled int64     `json:"totalFilled"`
	Open        bool      `json:"open"`
	PlacedAt    time.Time `json:"placedAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Delta is the signed change an observation makes to ledger aggregates.
type Delta struct {
	Cost     int64  // signed notional change (+ buy spend, - sell proceeds)
	Position int64  // signed share change (+ buy, - sell)
	NewFills []Fill // fills not present in the previous observation
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Cost == 0 && d.Position == 0
}

// NewOrder builds an Order from a place-order response and checks it against
// the request that produced it. The response wins every disagreement; each
// disagreement is returned as a warning.
func NewOrder(req OrderRequest, resp *OrderResponse) (*Order, []ConsistencyWarning) {
	var warnings []ConsistencyWarning
	mismatch := func(field, want, got string) {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: resp.ID, Kind: WarnRequestMismatch, Field: field, Expected: want, Got: got,
		})
	}

	if req.Account != resp.Account {
		mismatch("account", req.Account, resp.Account)
	}
	if req.Venue != resp.Venue {
		mismatch("venue", req.Venue, resp.Venue)
	}
	if req.Stock != resp.Symbol {
		mismatch("symbol", req.Stock, resp.Symbol)
	}
	if req.Direction != resp.Direction {
		mismatch("direction", string(req.Direction), string(resp.Direction))
	}
	if req.Qty != resp.OriginalQty {
		mismatch("originalQty", itoa(req.Qty), itoa(resp.OriginalQty))
	}
	if req.RequestedPrice() != resp.Price {
		mismatch("price", itoa(req.RequestedPrice()), itoa(resp.Price))
	}
	if req.Type != resp.OrderType {
		mismatch("orderType", string(req.Type), string(resp.OrderType))
	}

	warnings = append(warnings, checkResponse(resp)...)

	filled := resp.FilledQty()
	o := &Order{
		ID:          resp.ID,
		Account:     resp.Account,
		Venue:       resp.Venue,
		Symbol:      resp.Symbol,
		Direction:   resp.Direction,
		Type:        resp.OrderType,
		Qty:         resp.OriginalQty,
		Price:       resp.Price,
		Fills:       copyFills(resp.Fills),
		TotalFilled: filled,
		Open:        resp.Open,
		PlacedAt:    resp.Ts,
		UpdatedAt:   resp.Ts,
	}
	return o, warnings
}

// checkResponse validates the internal consistency of one response.
func checkResponse(resp *OrderResponse) []ConsistencyWarning {
	var warnings []ConsistencyWarning
	filled := resp.FilledQty()
	if resp.TotalFilled != filled {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: resp.ID, Kind: WarnFillSumMismatch, Field: "totalFilled",
			Expected: itoa(filled), Got: itoa(resp.TotalFilled),
		})
	}
	if resp.Qty != resp.OriginalQty-filled {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: resp.ID, Kind: WarnRestingMismatch, Field: "qty",
			Expected: itoa(resp.OriginalQty - filled), Got: itoa(resp.Qty),
		})
	}
	if filled > resp.OriginalQty {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: resp.ID, Kind: WarnNegativeRemaining, Field: "fills",
			Expected: "<= " + itoa(resp.OriginalQty), Got: itoa(filled),
		})
	}
	for _, key := range resp.UnexpectedKeys {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: resp.ID, Kind: WarnUnexpectedField, Field: key, Expected: "absent", Got: "present",
		})
	}
	return warnings
}

// Apply folds a later observation of the same order into o and returns the
// change it makes to position and basis. The diff is taken against what o has
// already contributed, so a fill is never lost or counted twice. An
// observation with fewer filled shares than already recorded is stale: it is
// flagged and its fills are ignored.
func (o *Order) Apply(resp *OrderResponse) (Delta, []ConsistencyWarning) {
	var warnings []ConsistencyWarning
	mismatch := func(field, want, got string) {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: o.ID, Kind: WarnOrderMismatch, Field: field, Expected: want, Got: got,
		})
	}

	if resp.ID != o.ID {
		mismatch("id", o.ID.String(), resp.ID.String())
	}
	if resp.Account != o.Account {
		mismatch("account", o.Account, resp.Account)
	}
	if resp.Direction != o.Direction {
		mismatch("direction", string(o.Direction), string(resp.Direction))
	}
	if resp.OrderType != o.Type {
		mismatch("orderType", string(o.Type), string(resp.OrderType))
	}
	if resp.OriginalQty != o.Qty {
		mismatch("originalQty", itoa(o.Qty), itoa(resp.OriginalQty))
	}
	if resp.Price != o.Price {
		mismatch("price", itoa(o.Price), itoa(resp.Price))
	}

	// Earlier fills must survive as a prefix of the new list.
	for i := 0; i < len(o.Fills) && i < len(resp.Fills); i++ {
		if !o.Fills[i].equal(resp.Fills[i]) {
			warnings = append(warnings, ConsistencyWarning{
				OrderID: o.ID, Kind: WarnFillsRewritten, Field: "fills[" + strconv.Itoa(i) + "]",
				Expected: fillString(o.Fills[i]), Got: fillString(resp.Fills[i]),
			})
			break
		}
	}
	if len(resp.Fills) < len(o.Fills) {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: o.ID, Kind: WarnFillsRewritten, Field: "len(fills)",
			Expected: ">= " + strconv.Itoa(len(o.Fills)), Got: strconv.Itoa(len(resp.Fills)),
		})
	}

	warnings = append(warnings, checkResponse(resp)...)

	// Closing is one-way.
	if !o.Open && resp.Open {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: o.ID, Kind: WarnReopened, Field: "open", Expected: "false", Got: "true",
		})
	}
	if !resp.Open {
		o.Open = false
	}
	if !resp.Ts.IsZero() {
		o.UpdatedAt = resp.Ts
	}

	newFilled := resp.FilledQty()
	if newFilled < o.TotalFilled {
		warnings = append(warnings, ConsistencyWarning{
			OrderID: o.ID, Kind: WarnFilledDecreased, Field: "totalFilled",
			Expected: ">= " + itoa(o.TotalFilled), Got: itoa(newFilled),
		})
		return Delta{}, warnings
	}

	newCost := signedNotional(resp.Fills, o.Direction)
	delta := Delta{
		Cost:     safe.SafeSub(newCost, o.Cost()),
		Position: o.sign() * safe.SafeSub(newFilled, o.TotalFilled),
	}
	if len(resp.Fills) > len(o.Fills) {
		delta.NewFills = copyFills(resp.Fills[len(o.Fills):])
	}

	o.Fills = copyFills(resp.Fills)
	o.TotalFilled = newFilled
	return delta, warnings
}

// MarkClosed moves the order to its terminal state.
func (o *Order) MarkClosed() {
	o.Open = false
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return o.Open
}

// IsAsk reports whether the order sells.
func (o *Order) IsAsk() bool {
	return o.Direction == DirectionSell
}

// IsBid reports whether the order buys.
func (o *Order) IsBid() bool {
	return o.Direction == DirectionBuy
}

// Resting returns the unfilled quantity, never below zero.
func (o *Order) Resting() int64 {
	r := o.Qty - o.TotalFilled
	if r < 0 {
		return 0
	}
	return r
}

// HasResting reports whether part of the order is still eligible to match.
func (o *Order) HasResting() bool {
	return o.Open && o.Resting() > 0
}

// Cost is the signed notional of all fills: positive for a buy, negative for a sell.
func (o *Order) Cost() int64 {
	return signedNotional(o.Fills, o.Direction)
}

// PositionDelta is the signed share effect of all fills: + for buy, - for sell.
func (o *Order) PositionDelta() int64 {
	return o.sign() * o.TotalFilled
}

// LastFillPrice returns the price of the most recent fill.
func (o *Order) LastFillPrice() (int64, bool) {
	if len(o.Fills) == 0 {
		return 0, false
	}
	return o.Fills[len(o.Fills)-1].Price, true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Fills = copyFills(o.Fills)
	return &c
}

func (o *Order) sign() int64 {
	if o.IsAsk() {
		return -1
	}
	return 1
}

func signedNotional(fills []Fill, d Direction) int64 {
	var sum int64
	for _, f := range fills {
		sum = safe.SafeAdd(sum, safe.SafeMul(f.Price, f.Qty))
	}
	if d == DirectionSell {
		return safe.SafeNeg(sum)
	}
	return sum
}

func copyFills(fills []Fill) []Fill {
	if fills == nil {
		return []Fill{}
	}
	out := make([]Fill, len(fills))
	copy(out, fills)
	return out
}

func fillString(f Fill) string {
	return fmt.Sprintf("%d@%d", f.Qty, f.Price)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
