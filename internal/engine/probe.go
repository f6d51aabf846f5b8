package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockpurse/internal/domain"
)

// BookSource fetches order book snapshots.
type BookSource interface {
	OrderBook(ctx context.Context) (*domain.OrderBook, error)
}

// ProbeOptions controls ProbeOrderBook.
type ProbeOptions struct {
	MaxRetries  int
	Pause       time.Duration // between attempts, not before the first
	RequireAsks bool
	RequireBids bool
}

// ProbeOrderBook fetches a book, retrying on venue errors and on books that
// lack a required side. It returns ErrNoProbeBook once attempts run out.
func ProbeOrderBook(ctx context.Context, src BookSource, opts ProbeOptions) (*domain.OrderBook, error) {
	attempts := max(opts.MaxRetries, 1)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt != 0 && opts.Pause > 0 {
			if err := sleepCtx(ctx, opts.Pause); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		book, err := src.OrderBook(ctx)
		if err != nil {
			lastErr = err
			slog.Debug("Order book probe failed", slog.Int("attempt", attempt+1), slog.Any("error", err))
			continue
		}
		if book == nil {
			continue
		}
		if (opts.RequireAsks && len(book.Asks) == 0) || (opts.RequireBids && len(book.Bids) == 0) {
			slog.Debug("Order book probe missing a side",
				slog.Int("attempt", attempt+1),
				slog.Int("asks", len(book.Asks)),
				slog.Int("bids", len(book.Bids)),
			)
			continue
		}
		return book, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrNoProbeBook, attempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrNoProbeBook, attempts)
}
