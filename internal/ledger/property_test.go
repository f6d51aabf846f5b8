package ledger

import (
	"testing"

	"pgregory.net/rapid"

	"stockpurse/internal/domain"
)

// orderScript is one order's life: the fills it eventually has and the
// prefixes of that list seen by successive observations.
type orderScript struct {
	id        domain.OrderID
	dir       domain.Direction
	qty       int64
	price     int64
	fills     []domain.Fill
	snapshots []int // number of fills visible at each observation; the last one is the cancel
}

func drawScript(t *rapid.T, id domain.OrderID) orderScript {
	s := orderScript{
		id:    id,
		dir:   rapid.SampledFrom([]domain.Direction{domain.DirectionBuy, domain.DirectionSell}).Draw(t, "dir"),
		price: rapid.Int64Range(1, 10000).Draw(t, "price"),
	}
	nFills := rapid.IntRange(0, 5).Draw(t, "nFills")
	for i := 0; i < nFills; i++ {
		s.fills = append(s.fills, domain.Fill{
			Price: rapid.Int64Range(1, 10000).Draw(t, "fillPrice"),
			Qty:   rapid.Int64Range(1, 50).Draw(t, "fillQty"),
			Ts:    t0,
		})
	}
	for _, f := range s.fills {
		s.qty += f.Qty
	}
	s.qty += rapid.Int64Range(1, 50).Draw(t, "unfilled")

	// Observations grow monotonically and end with every fill.
	steps := rapid.IntRange(1, 4).Draw(t, "steps")
	seen := 0
	for i := 0; i < steps-1; i++ {
		seen = rapid.IntRange(seen, nFills).Draw(t, "seen")
		s.snapshots = append(s.snapshots, seen)
	}
	s.snapshots = append(s.snapshots, nFills)
	return s
}

func (s orderScript) request() domain.OrderRequest {
	return domain.OrderRequest{
		Account: testAccount, Venue: testVenue, Stock: testStock,
		Direction: s.dir, Type: domain.OrderTypeLimit, Qty: s.qty, Price: px(s.price),
	}
}

func (s orderScript) observation(n int, open bool) *domain.OrderResponse {
	return response(s.id, s.dir, s.qty, s.price, open, s.fills[:n]...)
}

// play records the order, applies its intermediate observations and cancels it.
func (s orderScript) play(t *rapid.T, l *Ledger) {
	o, _ := domain.NewOrder(s.request(), s.observation(s.snapshots[0], true))
	if err := l.RecordOrder(o); err != nil {
		t.Fatalf("RecordOrder(%d): %v", s.id, err)
	}
	last := len(s.snapshots) - 1
	for _, n := range s.snapshots[1:last] {
		l.RecordUpdate(s.id, s.observation(n, true))
	}
	l.RecordCancel(s.id, s.observation(s.snapshots[last], false))
}

func (s orderScript) finalTotals() (position, cost int64) {
	var filled, notional int64
	for _, f := range s.fills {
		filled += f.Qty
		notional += f.Price * f.Qty
	}
	if s.dir == domain.DirectionSell {
		return -filled, -notional
	}
	return filled, notional
}

func drawScripts(t *rapid.T) []orderScript {
	n := rapid.IntRange(1, 8).Draw(t, "orders")
	scripts := make([]orderScript, n)
	for i := range scripts {
		scripts[i] = drawScript(t, domain.OrderID(i+1))
	}
	return scripts
}

func TestProperty_OrderOfIndependentOrdersDoesNotMatter(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scripts := drawScripts(t)
		shuffled := rapid.Permutation(scripts).Draw(t, "shuffled")
		mark := rapid.Int64Range(0, 10000).Draw(t, "mark")

		a := newTestLedger(nil)
		for _, s := range scripts {
			s.play(t, a)
		}
		b := newTestLedger(nil)
		for _, s := range shuffled {
			s.play(t, b)
		}

		if a.Position() != b.Position() {
			t.Fatalf("position %d != %d", a.Position(), b.Position())
		}
		if a.Basis() != b.Basis() {
			t.Fatalf("basis %d != %d", a.Basis(), b.Basis())
		}
		if a.ValueAt(mark) != b.ValueAt(mark) {
			t.Fatalf("value %d != %d", a.ValueAt(mark), b.ValueAt(mark))
		}

		var wantPos, wantCost int64
		for _, s := range scripts {
			p, c := s.finalTotals()
			wantPos += p
			wantCost += c
		}
		if a.Position() != wantPos || a.Basis() != -wantCost {
			t.Fatalf("aggregates %d/%d, want %d/%d", a.Position(), a.Basis(), wantPos, -wantCost)
		}
	})
}

func TestProperty_AggregatesMatchRecordedOrders(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initPos := rapid.Int64Range(-1000, 1000).Draw(t, "initPos")
		initBasis := rapid.Int64Range(-1_000_000, 1_000_000).Draw(t, "initBasis")
		l := New(Config{Account: testAccount, Instrument: testInst, Position: initPos, Basis: initBasis}, nil, nil)

		scripts := drawScripts(t)
		for _, s := range scripts {
			o, _ := domain.NewOrder(s.request(), s.observation(s.snapshots[0], true))
			if err := l.RecordOrder(o); err != nil {
				t.Fatalf("RecordOrder: %v", err)
			}
		}

		// Arbitrary observations, including stale ones that go backwards.
		updates := rapid.IntRange(0, 30).Draw(t, "updates")
		for i := 0; i < updates; i++ {
			s := scripts[rapid.IntRange(0, len(scripts)-1).Draw(t, "which")]
			n := rapid.IntRange(0, len(s.fills)).Draw(t, "visible")
			if rapid.Bool().Draw(t, "cancel") {
				l.RecordCancel(s.id, s.observation(n, false))
			} else {
				l.RecordUpdate(s.id, s.observation(n, rapid.Bool().Draw(t, "open")))
			}
		}

		snap := l.Snapshot()
		wantPos, wantBasis := initPos, initBasis
		for _, group := range [][]*domain.Order{snap.OpenBids, snap.OpenAsks, snap.ClosedBids, snap.ClosedAsks} {
			for _, o := range group {
				wantPos += o.PositionDelta()
				wantBasis -= o.Cost()
				if o.TotalFilled > o.Qty {
					t.Fatalf("order %d overfilled: %d > %d", o.ID, o.TotalFilled, o.Qty)
				}
			}
		}
		if snap.Position != wantPos {
			t.Fatalf("position %d, want %d", snap.Position, wantPos)
		}
		if snap.Basis != wantBasis {
			t.Fatalf("basis %d, want %d", snap.Basis, wantBasis)
		}
	})
}
