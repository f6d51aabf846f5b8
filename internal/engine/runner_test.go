package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"stockpurse/internal/domain"
	"stockpurse/internal/ledger"
	"stockpurse/internal/strategy"
)

var testInst = domain.Instrument{Venue: "TESTEX", Symbol: "FOOBAR"}

const testAccount = "EXB123456"

// stubVenue fills a fixed share of every bid and rejects chosen prices.
type stubVenue struct {
	mu        sync.Mutex
	nextID    domain.OrderID
	orders    map[domain.OrderID]*domain.OrderResponse
	reject    map[int64]bool
	bidFill   int64
	book      *domain.OrderBook
	bookErrs  int
	bookCalls int
	cancels   int
}

func newStubVenue() *stubVenue {
	return &stubVenue{
		orders: make(map[domain.OrderID]*domain.OrderResponse),
		reject: make(map[int64]bool),
		book: &domain.OrderBook{
			Venue: testInst.Venue, Symbol: testInst.Symbol,
			Asks: []domain.PriceLevel{{Price: 110, Qty: 10}},
			Bids: []domain.PriceLevel{{Price: 100, Qty: 10, IsBuy: true}},
		},
	}
}

func (v *stubVenue) Quote(ctx context.Context, inst domain.Instrument) (*domain.Quote, error) {
	return &domain.Quote{Venue: inst.Venue, Symbol: inst.Symbol}, nil
}

func (v *stubVenue) OrderBook(ctx context.Context, inst domain.Instrument) (*domain.OrderBook, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bookCalls++
	if v.bookErrs > 0 {
		v.bookErrs--
		return nil, &domain.APIResponseError{StatusCode: 503, Message: "busy"}
	}
	return v.book, nil
}

func (v *stubVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.reject[req.RequestedPrice()] {
		return nil, &domain.APIResponseError{StatusCode: 200, Message: "Invalid price"}
	}
	v.nextID++
	resp := &domain.OrderResponse{
		ID: v.nextID, Account: req.Account, Venue: req.Venue, Symbol: req.Stock,
		Direction: req.Direction, OrderType: req.Type, OriginalQty: req.Qty,
		Price: req.RequestedPrice(), Open: true,
	}
	if req.Direction == domain.DirectionBuy && v.bidFill > 0 {
		resp.Fills = []domain.Fill{{Price: resp.Price, Qty: v.bidFill}}
	}
	resp.TotalFilled = resp.FilledQty()
	resp.Qty = resp.OriginalQty - resp.TotalFilled
	v.orders[resp.ID] = resp
	return resp, nil
}

func (v *stubVenue) CancelOrder(ctx context.Context, inst domain.Instrument, id domain.OrderID) (*domain.OrderResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cancels++
	prev := *v.orders[id]
	prev.Open = false
	return &prev, nil
}

func (v *stubVenue) OrderStatus(ctx context.Context, inst domain.Instrument, id domain.OrderID) (*domain.OrderResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.orders[id], nil
}

type fixedStrategy struct {
	actions []strategy.Action
	panicky bool
}

func (s *fixedStrategy) Name() string { return "fixed" }

func (s *fixedStrategy) Plan(view strategy.MarketView) []strategy.Action {
	if s.panicky {
		panic("strategy exploded")
	}
	return s.actions
}

func newTestRunner(v *stubVenue, strat strategy.Strategy, cfg Config) (*Runner, *ledger.Ledger) {
	l := ledger.New(ledger.Config{Account: testAccount, Instrument: testInst}, v, nil)
	r := NewRunner(cfg, l, strat)
	r.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return r, l
}

func TestRunner_RoundToleratesRejectedOrders(t *testing.T) {
	v := newStubVenue()
	v.bidFill = 4
	v.reject[200] = true
	strat := &fixedStrategy{actions: []strategy.Action{
		{Direction: domain.DirectionBuy, Price: 100, Qty: 10},
		{Direction: domain.DirectionSell, Price: 200, Qty: 10},
		{Direction: domain.DirectionSell, Price: 210, Qty: 5},
	}}
	r, l := newTestRunner(v, strat, Config{Rounds: 1})

	sum, err := r.RunRound(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	if sum.Placed != 2 || sum.Failed != 1 {
		t.Errorf("placed/failed = %d/%d, want 2/1", sum.Placed, sum.Failed)
	}
	if sum.Bought != 4 || sum.Sold != 0 {
		t.Errorf("bought/sold = %d/%d, want 4/0", sum.Bought, sum.Sold)
	}
	if sum.Position != 4 || sum.Basis != -400 {
		t.Errorf("position/basis = %d/%d", sum.Position, sum.Basis)
	}
	if sum.Value == nil || *sum.Value != 0 {
		t.Errorf("value = %v, want 0", sum.Value)
	}
	if sum.ID == "" {
		t.Error("round id should be set")
	}
	if v.cancels != 2 {
		t.Errorf("cancels = %d, want 2", v.cancels)
	}
	if len(l.OpenBids())+len(l.OpenAsks()) != 0 {
		t.Error("round should end with no open orders")
	}

	last, ok := r.LastRound()
	if !ok || last.ID != sum.ID {
		t.Errorf("LastRound = %+v, %v", last, ok)
	}
}

func TestRunner_RunPlaysConfiguredRounds(t *testing.T) {
	v := newStubVenue()
	strat := &fixedStrategy{actions: []strategy.Action{{Direction: domain.DirectionSell, Price: 150, Qty: 1}}}
	r, _ := newTestRunner(v, strat, Config{Rounds: 3})
	var hooked []int
	r.SetRoundHook(func(sum RoundSummary) { hooked = append(hooked, sum.Round) })

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	last, ok := r.LastRound()
	if !ok || last.Round != 3 {
		t.Errorf("last round = %d, want 3", last.Round)
	}
	if v.cancels != 3 {
		t.Errorf("cancels = %d, want 3", v.cancels)
	}
	if len(hooked) != 3 || hooked[2] != 3 {
		t.Errorf("round hook saw %v", hooked)
	}
}

func TestRunner_StopsOnCancelledContext(t *testing.T) {
	v := newStubVenue()
	r, _ := newTestRunner(v, &fixedStrategy{}, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRunner_PanicDumpsLedger(t *testing.T) {
	v := newStubVenue()
	dump := filepath.Join(t.TempDir(), "dump.json")
	r, _ := newTestRunner(v, &fixedStrategy{panicky: true}, Config{Rounds: 1, DumpPath: dump})

	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatal("Runner should halt on panic")
		}
		if !strings.Contains(rec.(string), "HALTED") {
			t.Errorf("panic = %v", rec)
		}

		b, err := os.ReadFile(dump)
		if err != nil {
			t.Fatalf("dump not written: %v", err)
		}
		var data struct {
			Ledger ledger.Snapshot `json:"ledger"`
		}
		if err := json.Unmarshal(b, &data); err != nil {
			t.Fatalf("dump is not JSON: %v", err)
		}
		if data.Ledger.Account != testAccount {
			t.Errorf("dump account = %q", data.Ledger.Account)
		}
	}()

	r.Run(context.Background())
}

func TestProbeOrderBook(t *testing.T) {
	ctx := context.Background()
	l := func(v *stubVenue) *ledger.Ledger {
		return ledger.New(ledger.Config{Account: testAccount, Instrument: testInst}, v, nil)
	}

	t.Run("retries venue errors", func(t *testing.T) {
		v := newStubVenue()
		v.bookErrs = 2
		book, err := ProbeOrderBook(ctx, l(v), ProbeOptions{MaxRetries: 3, Pause: time.Millisecond})
		if err != nil || book == nil {
			t.Fatalf("ProbeOrderBook = %v, %v", book, err)
		}
		if v.bookCalls != 3 {
			t.Errorf("calls = %d, want 3", v.bookCalls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		v := newStubVenue()
		v.bookErrs = 5
		_, err := ProbeOrderBook(ctx, l(v), ProbeOptions{MaxRetries: 2})
		if !errors.Is(err, ErrNoProbeBook) {
			t.Errorf("error = %v, want ErrNoProbeBook", err)
		}
		var apiErr *domain.APIResponseError
		if !errors.As(err, &apiErr) {
			t.Errorf("last venue error should be wrapped: %v", err)
		}
	})

	t.Run("requires sides", func(t *testing.T) {
		v := newStubVenue()
		v.book.Bids = nil
		if _, err := ProbeOrderBook(ctx, l(v), ProbeOptions{MaxRetries: 2, RequireBids: true}); !errors.Is(err, ErrNoProbeBook) {
			t.Errorf("error = %v, want ErrNoProbeBook", err)
		}
		book, err := ProbeOrderBook(ctx, l(v), ProbeOptions{MaxRetries: 1, RequireAsks: true})
		if err != nil || len(book.Asks) != 1 {
			t.Errorf("asks-only probe = %v, %v", book, err)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := ProbeOrderBook(cctx, l(newStubVenue()), ProbeOptions{MaxRetries: 3}); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}
