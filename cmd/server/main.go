package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leaguehub/predex/internal/api"
	"github.com/leaguehub/predex/internal/config"
	"github.com/leaguehub/predex/internal/exchange"
	"github.com/leaguehub/predex/internal/liquidity"
	"github.com/leaguehub/predex/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.PathEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.Log.NewLogger(os.Stdout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store ---
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		slog.Error("store init failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	// --- WebSocket hub ---
	hub := api.NewHub()

	// --- Exchange ---
	svc := exchange.NewService(st, exchange.Options{
		Limits:      cfg.Limits(),
		Liquidity:   cfg.Exchange.Liquidity,
		FeeRate:     cfg.Fee(),
		Publisher:   hub,
		CacheBooks:  *cfg.Exchange.CacheBooks,
		PriceWindow: cfg.Exchange.PriceWindow,
		BigMove:     cfg.Exchange.BigMove,
	})
	if _, err := svc.ActiveMarketIDs(ctx); err != nil {
		slog.Error("store not readable", "err", err)
		os.Exit(1)
	}

	scheduler := liquidity.NewScheduler(svc, cfg.ReplenishInterval(), cfg.Exchange.ReplenishConcurrency)

	// --- HTTP ---
	limiter := api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.NewRouter(api.NewHandler(svc), hub, limiter),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("predex listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()

		slog.Info("shutting down predex...")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("predex exited with error", "err", err)
		os.Exit(1)
	}
	fmt.Println("predex stopped")
}
