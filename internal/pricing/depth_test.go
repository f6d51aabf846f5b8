package pricing

import (
	"slices"
	"testing"

	"stockpurse/internal/domain"
)

func levels(pairs ...int64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{Price: pairs[i], Qty: pairs[i+1]})
	}
	return out
}

func TestPriceTillQty(t *testing.T) {
	tests := []struct {
		name     string
		levels   []domain.PriceLevel
		targets  []int64
		fallback int64
		side     Side
		want     []int64
	}{
		{
			name:     "targets within depth",
			levels:   levels(100, 10, 101, 20, 102, 30),
			targets:  []int64{5, 15, 50},
			fallback: 300,
			side:     SideAsks,
			want:     []int64{100, 101, 102},
		},
		{
			name:     "ask beyond depth steps up",
			levels:   levels(100, 10, 101, 20, 102, 30),
			targets:  []int64{5, 15, 61},
			fallback: 300,
			side:     SideAsks,
			want:     []int64{100, 101, 402},
		},
		{
			name:     "each unreached target adds a step",
			levels:   levels(100, 10),
			targets:  []int64{50, 100, 200},
			fallback: 25,
			side:     SideAsks,
			want:     []int64{125, 150, 175},
		},
		{
			name:     "negative fallback still moves asks up",
			levels:   levels(100, 10),
			targets:  []int64{20},
			fallback: -25,
			side:     SideAsks,
			want:     []int64{125},
		},
		{
			name:     "bid beyond depth steps down",
			levels:   levels(500, 10, 490, 10),
			targets:  []int64{10, 30, 40},
			fallback: 100,
			side:     SideBids,
			want:     []int64{500, 390, 290},
		},
		{
			name:     "bid fallback clamps at zero",
			levels:   levels(50, 10),
			targets:  []int64{20, 30},
			fallback: 40,
			side:     SideBids,
			want:     []int64{10, 0},
		},
		{
			name:     "duplicate targets repeat the price",
			levels:   levels(100, 10, 105, 10),
			targets:  []int64{15, 15},
			fallback: 1,
			side:     SideAsks,
			want:     []int64{105, 105},
		},
		{
			name:     "zero target is the best level",
			levels:   levels(100, 10, 105, 10),
			targets:  []int64{0, 10},
			fallback: 1,
			side:     SideAsks,
			want:     []int64{100, 100},
		},
		{
			name:     "single level",
			levels:   levels(777, 5),
			targets:  []int64{5, 6},
			fallback: 3,
			side:     SideBids,
			want:     []int64{777, 774},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PriceTillQty(tt.levels, tt.targets, tt.fallback, tt.side)
			if !ok {
				t.Fatal("expected prices")
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("PriceTillQty() = %v, want %v", got, tt.want)
			}
			if len(got) != len(tt.targets) {
				t.Errorf("got %d prices for %d targets", len(got), len(tt.targets))
			}
		})
	}
}

func TestPriceTillQty_NoData(t *testing.T) {
	if got, ok := PriceTillQty(nil, []int64{10}, 5, SideAsks); ok || got != nil {
		t.Errorf("empty book = %v, %v", got, ok)
	}
	if got, ok := PriceTillQty(levels(100, 10), nil, 5, SideBids); ok || got != nil {
		t.Errorf("empty targets = %v, %v", got, ok)
	}
}

func TestPriceTillQty_FallbackDirection(t *testing.T) {
	book := levels(1000, 1)
	targets := []int64{2, 3, 4, 5}

	asks, _ := PriceTillQty(book, targets, 10, SideAsks)
	bids, _ := PriceTillQty(book, targets, 10, SideBids)
	for i := 1; i < len(targets); i++ {
		if asks[i] <= asks[i-1] {
			t.Errorf("ask prices not increasing: %v", asks)
		}
		if bids[i] >= bids[i-1] {
			t.Errorf("bid prices not decreasing: %v", bids)
		}
	}
}

func TestBookPrices(t *testing.T) {
	book := &domain.OrderBook{
		Asks: levels(110, 5, 115, 50),
		Bids: nil,
	}
	asks, bids := BookPrices(book, []int64{10}, 20)
	if !slices.Equal(asks, []int64{115}) {
		t.Errorf("asks = %v", asks)
	}
	if bids != nil {
		t.Errorf("bids = %v, want nil", bids)
	}
}

func BenchmarkPriceTillQty(b *testing.B) {
	book := make([]domain.PriceLevel, 200)
	for i := range book {
		book[i] = domain.PriceLevel{Price: int64(5000 + i*5), Qty: int64(20 + i%7)}
	}
	targets := []int64{250, 500, 1000, 2500, 10000, 30000}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PriceTillQty(book, targets, 300, SideAsks)
	}
}
