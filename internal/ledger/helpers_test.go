package ledger

import (
	"context"
	"sync"
	"time"

	"stockpurse/internal/domain"
)

const (
	testAccount = "EXB123456"
	testVenue   = "TESTEX"
	testStock   = "FOOBAR"
)

var (
	testInst = domain.Instrument{Venue: testVenue, Symbol: testStock}
	t0       = time.Date(2015, 12, 10, 8, 0, 0, 0, time.UTC)
)

func px(p int64) *int64 { return &p }

func newTestLedger(v domain.Venue) *Ledger {
	return New(Config{Account: testAccount, Instrument: testInst}, v, nil)
}

// response builds a consistent venue answer.
func response(id domain.OrderID, dir domain.Direction, qty, price int64, open bool, fills ...domain.Fill) *domain.OrderResponse {
	resp := &domain.OrderResponse{
		ID:          id,
		Ts:          t0,
		Account:     testAccount,
		Venue:       testVenue,
		Symbol:      testStock,
		Direction:   dir,
		OrderType:   domain.OrderTypeLimit,
		OriginalQty: qty,
		Price:       price,
		Fills:       fills,
		Open:        open,
	}
	resp.TotalFilled = resp.FilledQty()
	resp.Qty = qty - resp.TotalFilled
	return resp
}

func fill(price, qty int64) domain.Fill {
	return domain.Fill{Price: price, Qty: qty, Ts: t0}
}

// fakeVenue is a scripted in-memory venue.
type fakeVenue struct {
	mu sync.Mutex

	nextID domain.OrderID

	// fillsOnPlace, when set, decides the fills returned for a new order.
	fillsOnPlace func(req domain.OrderRequest) []domain.Fill
	placeErr     error

	// echo, when set, rewrites the place response before it is returned.
	echo func(resp *domain.OrderResponse)

	// cancelFills adds fills reported by the cancel response.
	cancelFills map[domain.OrderID][]domain.Fill
	cancelErr   map[domain.OrderID]error

	quote *domain.Quote
	book  *domain.OrderBook

	placed      map[domain.OrderID]*domain.OrderResponse
	cancelCalls []domain.OrderID
	statusCalls []domain.OrderID
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		nextID:      100,
		cancelFills: make(map[domain.OrderID][]domain.Fill),
		cancelErr:   make(map[domain.OrderID]error),
		placed:      make(map[domain.OrderID]*domain.OrderResponse),
	}
}

func (f *fakeVenue) Quote(ctx context.Context, inst domain.Instrument) (*domain.Quote, error) {
	return f.quote, nil
}

func (f *fakeVenue) OrderBook(ctx context.Context, inst domain.Instrument) (*domain.OrderBook, error) {
	return f.book, nil
}

func (f *fakeVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.nextID++
	var fills []domain.Fill
	if f.fillsOnPlace != nil {
		fills = f.fillsOnPlace(req)
	}
	var filled int64
	for _, fl := range fills {
		filled += fl.Qty
	}
	resp := response(f.nextID, req.Direction, req.Qty, req.RequestedPrice(), filled < req.Qty, fills...)
	if f.echo != nil {
		f.echo(resp)
	}
	f.placed[resp.ID] = resp
	return resp, nil
}

func (f *fakeVenue) CancelOrder(ctx context.Context, inst domain.Instrument, id domain.OrderID) (*domain.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls = append(f.cancelCalls, id)
	if err := f.cancelErr[id]; err != nil {
		return nil, err
	}
	prev := f.placed[id]
	fills := append(append([]domain.Fill{}, prev.Fills...), f.cancelFills[id]...)
	resp := response(id, prev.Direction, prev.OriginalQty, prev.Price, false, fills...)
	f.placed[id] = resp
	return resp, nil
}

func (f *fakeVenue) OrderStatus(ctx context.Context, inst domain.Instrument, id domain.OrderID) (*domain.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, id)
	return f.placed[id], nil
}
