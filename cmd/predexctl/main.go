package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/leaguehub/predex/internal/config"
	"github.com/leaguehub/predex/internal/exchange"
	"github.com/leaguehub/predex/internal/store"
)

var (
	configPath string

	cfg *config.Config
	st  store.Store
	svc *exchange.Service
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default $"+config.PathEnv+")")

	rootCmd.AddCommand(
		migrateCmd,
		marketsCmd,
		bookCmd,
		createCmd,
		tradeCmd,
		postCmd,
		cancelCmd,
		positionsCmd,
		leaderboardCmd,
		resolveCmd,
		replenishCmd,
		houseCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "predexctl",
	Short: "Operate a predex exchange directly against its store",
	Long: `predexctl runs exchange operations against the configured store without
going through the HTTP service: creating and resolving markets, placing and
cancelling orders, and printing books, portfolios and the leaderboard.

Storage is selected the same way as for the server: DATABASE_URL, then
SQLITE_PATH, then an in-memory store that is discarded on exit.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		slog.SetDefault(cfg.Log.NewLogger(os.Stderr))

		if st, err = store.Open(cmd.Context(), cfg.StoreOptions()); err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		svc = exchange.NewService(st, exchange.Options{
			Limits:      cfg.Limits(),
			Liquidity:   cfg.Exchange.Liquidity,
			FeeRate:     cfg.Fee(),
			PriceWindow: cfg.Exchange.PriceWindow,
			BigMove:     cfg.Exchange.BigMove,
		})
		return nil
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if st == nil {
			return nil
		}
		return st.Close()
	},
}
