package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"stockpurse/internal/domain"
	"stockpurse/internal/ledger"
	"stockpurse/internal/strategy"
)

// ErrNoProbeBook is returned when no usable order book could be fetched.
var ErrNoProbeBook = errors.New("no usable order book")

// Config controls the round loop.
type Config struct {
	Rounds       int           // 0 runs until the context ends
	Wait         time.Duration // time orders rest before the round's cancel-all
	ProbeRetries int
	ProbePause   time.Duration
	DumpPath     string
}

// RoundSummary is logged at the end of every round.
type RoundSummary struct {
	ID        string    `json:"id"`
	Round     int       `json:"round"`
	Strategy  string    `json:"strategy"`
	Placed    int       `json:"placed"`
	Failed    int       `json:"failed"`
	Bought    int64     `json:"bought"`
	Sold      int64     `json:"sold"`
	Position  int64     `json:"position"`
	Basis     int64     `json:"basis"`
	Value     *int64    `json:"value,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Runner drives one strategy against one ledger. Run must be called from a
// single goroutine; LastRound may be read from anywhere.
type Runner struct {
	cfg      Config
	ledger   *ledger.Ledger
	strategy strategy.Strategy
	logger   *slog.Logger

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex // Used only for external reads (e.g. status API)
	last    *RoundSummary
	onRound func(RoundSummary)
}

// NewRunner creates a new runner instance.
func NewRunner(cfg Config, l *ledger.Ledger, strat strategy.Strategy) *Runner {
	if cfg.ProbeRetries <= 0 {
		cfg.ProbeRetries = 1
	}
	return &Runner{
		cfg:      cfg,
		ledger:   l,
		strategy: strat,
		logger:   slog.Default().With("module", "engine", "strategy", strat.Name()),
		sleep:    sleepCtx,
	}
}

// SetRoundHook registers fn to run after every completed round. Call before Run.
func (r *Runner) SetRoundHook(fn func(RoundSummary)) {
	r.onRound = fn
}

// Run plays rounds until the configured count is reached or ctx ends.
// Open orders are cancelled on the way out. A panic dumps the ledger and
// halts the process.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("Runner started", slog.Int("rounds", r.cfg.Rounds))

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", rec))
			r.DumpState(r.cfg.DumpPath)
			panic(fmt.Sprintf("HALTED: %v", rec))
		}
	}()
	defer r.cancelOpen(ctx)

	for round := 1; r.cfg.Rounds == 0 || round <= r.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			r.logger.Info("Runner stopping...")
			return nil
		}
		if _, err := r.RunRound(ctx, round); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				r.logger.Info("Runner stopping...")
				return nil
			}
			r.logger.Warn("Round skipped", slog.Int("round", round), slog.Any("error", err))
		}
	}
	r.logger.Info("Runner finished")
	return nil
}

// RunRound probes the book, places the strategy's orders, lets them rest,
// cancels whatever is left and summarizes the round. A rejected order never
// stops the rest of the round.
func (r *Runner) RunRound(ctx context.Context, round int) (RoundSummary, error) {
	sum := RoundSummary{
		ID:        uuid.NewString(),
		Round:     round,
		Strategy:  r.strategy.Name(),
		StartedAt: time.Now(),
	}
	logger := r.logger.With(slog.String("round_id", sum.ID), slog.Int("round", round))

	book, err := ProbeOrderBook(ctx, r.ledger, ProbeOptions{
		MaxRetries:  r.cfg.ProbeRetries,
		Pause:       r.cfg.ProbePause,
		RequireAsks: true,
		RequireBids: true,
	})
	if err != nil {
		return sum, err
	}

	actions := r.strategy.Plan(strategy.MarketView{Book: book, Position: r.ledger.Position()})

	var buyIDs, sellIDs []domain.OrderID
	for _, a := range actions {
		price := a.Price
		o, err := r.ledger.Place(ctx, a.Direction, domain.OrderTypeLimit, a.Qty, &price)
		if o == nil {
			sum.Failed++
			logger.Warn("ORDER_FAILED", slog.String("action", a.String()), slog.Any("error", err))
			continue
		}
		sum.Placed++
		if a.Direction == domain.DirectionBuy {
			buyIDs = append(buyIDs, o.ID)
		} else {
			sellIDs = append(sellIDs, o.ID)
		}
		logger.Info("ORDER_PLACED",
			slog.String("action", a.String()),
			slog.Int64("id", int64(o.ID)),
			slog.Int64("filled", o.TotalFilled),
		)
	}

	waitErr := r.sleep(ctx, r.cfg.Wait)

	cctx, cancel := detached(ctx)
	defer cancel()
	if _, err := r.ledger.CancelAll(cctx); err != nil {
		logger.Warn("Cancel-all incomplete", slog.Any("error", err))
	}

	sum.Bought = r.sumFilled(buyIDs)
	sum.Sold = r.sumFilled(sellIDs)
	sum.Position = r.ledger.Position()
	sum.Basis = r.ledger.Basis()
	if v, err := r.ledger.Value(); err == nil {
		sum.Value = &v
	}
	sum.EndedAt = time.Now()

	attrs := []any{
		slog.Int("placed", sum.Placed),
		slog.Int("failed", sum.Failed),
		slog.Int64("bought", sum.Bought),
		slog.Int64("sold", sum.Sold),
		slog.Int64("position", sum.Position),
		slog.Int64("basis", sum.Basis),
	}
	if sum.Value != nil {
		attrs = append(attrs, slog.Int64("value", *sum.Value))
	}
	logger.Info("ROUND_SUMMARY", attrs...)

	r.mu.Lock()
	last := sum
	r.last = &last
	r.mu.Unlock()

	if r.onRound != nil {
		r.onRound(sum)
	}

	return sum, waitErr
}

func (r *Runner) sumFilled(ids []domain.OrderID) int64 {
	var total int64
	for _, id := range ids {
		if q, err := r.ledger.QtyFilled(id); err == nil {
			total += q
		}
	}
	return total
}

func (r *Runner) cancelOpen(ctx context.Context) {
	if len(r.ledger.OpenBids())+len(r.ledger.OpenAsks()) == 0 {
		return
	}
	cctx, cancel := detached(ctx)
	defer cancel()
	if _, err := r.ledger.CancelAll(cctx); err != nil {
		r.logger.Error("Failed to cancel open orders on exit", slog.Any("error", err))
	}
}

// LastRound returns the most recent round summary (external read).
func (r *Runner) LastRound() (RoundSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return RoundSummary{}, false
	}
	return *r.last, true
}

// DumpState writes the ledger snapshot to a file (for post-mortem).
func (r *Runner) DumpState(filename string) {
	if filename == "" {
		filename = "panic_dump.json"
	}
	r.logger.Info("Dumping ledger state...", slog.String("file", filename))

	data := struct {
		DumpedAt time.Time       `json:"dumped_at"`
		Ledger   ledger.Snapshot `json:"ledger"`
		Last     *RoundSummary   `json:"last_round,omitempty"`
	}{
		DumpedAt: time.Now(),
		Ledger:   r.ledger.Snapshot(),
	}
	if last, ok := r.LastRound(); ok {
		data.Last = &last
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		r.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		r.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}

// detached outlives ctx so open orders still get cancelled during shutdown.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
