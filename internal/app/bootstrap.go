package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"stockpurse/internal/api"
	"stockpurse/internal/domain"
	"stockpurse/internal/engine"
	"stockpurse/internal/infra"
	"stockpurse/internal/infra/stockfighter"
	"stockpurse/internal/infra/storage"
	"stockpurse/internal/ledger"
	"stockpurse/internal/strategy"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Journal *storage.Journal
	Client  *stockfighter.Client
	Ledger  *ledger.Ledger
	Runner  *engine.Runner
	Status  *api.Server

	feeds []domain.FeedWorker
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads config and wires every component. Nothing talks to the
// venue until Start.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping stockpurse...", slog.String("instrument", cfg.Instrument().String()))

	// 3. Journal (DB)
	journal, err := storage.NewJournal(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Journal = journal
	slog.Info("✅ Journal initialized", slog.String("path", cfg.Storage.Path))

	// 4. Venue client + ledger
	b.Client = stockfighter.NewClientFromConfig(cfg)

	ledgerCfg, err := seedLedger(cfg, journal)
	if err != nil {
		return err
	}
	b.Ledger = ledger.New(ledgerCfg, b.Client, journal)

	if err := prometheus.Register(infra.NewMetricsCollector(infra.GlobalMetrics, prometheus.Labels{
		"account":    cfg.Trading.Account,
		"instrument": cfg.Instrument().String(),
	})); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	// 5. Strategy + runner
	sm := cfg.Strategy.ShyMaker
	strat, err := strategy.NewShyMaker(strategy.ShyMakerConfig{
		QtyMarks:           sm.QtyMarks,
		Qtys:               sm.Qtys,
		PriceDeltaFallback: sm.PriceDeltaFallback,
		QtyTolerance:       sm.QtyTolerance,
		ToleranceAdjust:    sm.ToleranceAdjust,
		InformedQty:        sm.InformedQty,
		InformedPenalty:    sm.InformedPenalty,
		PositionLimit:      sm.PositionLimit,
	})
	if err != nil {
		return &domain.ConfigError{Field: "strategy.shy_maker", Err: err}
	}

	b.Runner = engine.NewRunner(engine.Config{
		Rounds:       sm.Rounds,
		Wait:         sm.Wait(),
		ProbeRetries: sm.ProbeRetries,
		ProbePause:   sm.ProbePause(),
		DumpPath:     "panic_dump.json",
	}, b.Ledger, strat)
	b.Runner.SetRoundHook(b.checkpoint)

	// 6. Feeds
	if cfg.Feeds.Tape {
		b.feeds = append(b.feeds, stockfighter.NewTapeWorker(cfg.API.WSURL, cfg.Trading.Account, cfg.Instrument(), b.Ledger.ObserveQuote))
	}
	if cfg.Feeds.Executions {
		b.feeds = append(b.feeds, stockfighter.NewExecutionsWorker(cfg.API.WSURL, cfg.Trading.Account, cfg.Instrument(), b.onExecution))
	}

	// 7. Status API
	if cfg.Status.ListenAddr != "" {
		h := api.NewHandler(b.Ledger, b.Runner, journal)
		b.Status = api.NewServer(cfg.Status.ListenAddr, api.NewRouter(h))
	}

	return nil
}

// checkpointLoader reads saved ledger aggregates.
type checkpointLoader interface {
	LoadCheckpoint(account string, inst domain.Instrument) (position, basis int64, ok bool, err error)
}

// seedLedger starts from the configured initial position and basis. Only
// with storage.resume_checkpoint set does a saved checkpoint take over.
func seedLedger(cfg *infra.Config, cp checkpointLoader) (ledger.Config, error) {
	lc := ledger.Config{
		Account:    cfg.Trading.Account,
		Instrument: cfg.Instrument(),
		Position:   cfg.Trading.InitialPosition,
		Basis:      cfg.Trading.InitialBasis,
	}
	if !cfg.Storage.ResumeCheckpoint {
		return lc, nil
	}
	pos, basis, ok, err := cp.LoadCheckpoint(lc.Account, lc.Instrument)
	if err != nil {
		return lc, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		lc.Position, lc.Basis = pos, basis
		slog.Info("✅ Resumed from checkpoint", slog.Int64("position", pos), slog.Int64("basis", basis))
	}
	return lc, nil
}

// Start checks the venue is reachable and connects the feeds.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("venue heartbeat: %w", err)
	}
	for _, f := range b.feeds {
		if err := f.Connect(ctx); err != nil {
			slog.Error("Failed to connect feed", slog.Any("error", err))
		}
	}
	return nil
}

// Close disconnects feeds, flushes the ledger's journal queue and closes the journal.
func (b *Bootstrap) Close() {
	for _, f := range b.feeds {
		f.Disconnect()
	}
	if b.Ledger != nil {
		b.Ledger.Close()
	}
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Warn("Journal close failed", slog.Any("error", err))
		}
	}
}

func (b *Bootstrap) checkpoint(sum engine.RoundSummary) {
	infra.GlobalMetrics.SetBook(sum.Position, sum.Basis)
	if err := b.Journal.SaveCheckpoint(b.Ledger.Account(), b.Ledger.Instrument(), sum.Position, sum.Basis); err != nil {
		slog.Warn("Checkpoint failed", slog.Int("round", sum.Round), slog.Any("error", err))
	}
}

// onExecution folds a fill report into the ledger. An execution can arrive
// before the placing call returns; such orders are picked up by the
// round's cancel instead.
func (b *Bootstrap) onExecution(ex *stockfighter.Execution) {
	id := ex.Order.ID
	_, err := b.Ledger.RecordUpdate(id, &ex.Order)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnknownOrder):
		slog.Debug("Execution for unrecorded order", slog.Int64("id", int64(id)))
	case domain.IsConsistencyFault(err):
		slog.Warn("Execution disagreed with ledger", slog.Int64("id", int64(id)), slog.Any("error", err))
	default:
		slog.Error("Execution not applied", slog.Int64("id", int64(id)), slog.Any("error", err))
	}
}
