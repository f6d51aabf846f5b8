package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"stockpurse/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()

	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", slog.Any("error", err))
	}

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Venue unavailable", slog.Any("error", err))
		return
	}

	// 4. Status API
	if bootstrap.Status != nil {
		go func() {
			if err := bootstrap.Status.Run(ctx); err != nil {
				slog.Error("Status API failed", slog.Any("error", err))
			}
		}()
	}

	// 5. Rounds (blocks until done or signalled)
	slog.InfoContext(ctx, "✨ Runner operational. Press Ctrl+C to exit.")
	if err := bootstrap.Runner.Run(ctx); err != nil {
		slog.Error("Runner failed", slog.Any("error", err))
	}

	snap := bootstrap.Ledger.Snapshot()
	slog.Info("👋 Shutting down gracefully...",
		slog.Int64("position", snap.Position),
		slog.Int64("basis", snap.Basis),
	)
}
