package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leaguehub/predex/internal/exchange"
	"github.com/leaguehub/predex/internal/liquidity"
	"github.com/leaguehub/predex/internal/model"
	"github.com/leaguehub/predex/internal/report"
	"github.com/leaguehub/predex/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Opening the store migrates it.
		fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
		return nil
	},
}

var (
	marketsGuild  string
	marketsStatus string
)

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "List markets, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		markets, err := svc.ListMarkets(cmd.Context(), store.MarketFilter{
			GuildID: marketsGuild,
			Status:  model.MarketStatus(marketsStatus),
		})
		if err != nil {
			return err
		}
		return report.Markets(cmd.OutOrStdout(), markets)
	},
}

var bookDepth int

var bookCmd = &cobra.Command{
	Use:   "book MARKET",
	Short: "Show a market's order book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := svc.Book(cmd.Context(), args[0], bookDepth)
		if err != nil {
			return err
		}
		return report.Book(cmd.OutOrStdout(), snap)
	},
}

var createReq exchange.CreateMarketRequest

var createCmd = &cobra.Command{
	Use:   "create QUESTION",
	Short: "Open a market and seed it with bot quotes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := createReq
		req.Question = args[0]
		if week, _ := cmd.Flags().GetInt("week"); week > 0 {
			req.ResolutionWeek = &week
		}
		m, err := svc.CreateMarket(cmd.Context(), req)
		if err != nil {
			return err
		}
		return report.Markets(cmd.OutOrStdout(), []model.Market{*m})
	},
}

var tradeReq struct {
	market, user, side, direction string
	amount, price                 int64
}

func addTradeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&tradeReq.market, "market", "", "market ID")
	cmd.Flags().StringVar(&tradeReq.user, "user", "", "user ID")
	cmd.Flags().StringVar(&tradeReq.side, "side", "yes", "yes or no")
	cmd.Flags().StringVar(&tradeReq.direction, "direction", "buy", "buy or sell")
	cmd.Flags().Int64Var(&tradeReq.amount, "amount", 10, "dollars, in $10 steps (one share per dollar)")
	cmd.Flags().Int64Var(&tradeReq.price, "price", 50, "limit price in cents, 5-95")
	cmd.MarkFlagRequired("market")
	cmd.MarkFlagRequired("user")
}

func tradeRequest() exchange.TradeRequest {
	return exchange.TradeRequest{
		MarketID:  tradeReq.market,
		UserID:    tradeReq.user,
		Side:      model.Side(tradeReq.side),
		Direction: model.Direction(tradeReq.direction),
		Amount:    tradeReq.amount,
		Price:     tradeReq.price,
	}
}

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Place an order that fills completely, against users or the bot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := svc.PlaceTrade(cmd.Context(), tradeRequest())
		if err != nil {
			return err
		}
		return report.Trade(cmd.OutOrStdout(), res)
	},
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Post a limit order; the unmatched part rests on the book",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		res, err := svc.PostOrder(cmd.Context(), tradeRequest())
		if err != nil {
			return err
		}
		return report.Trade(cmd.OutOrStdout(), res)
	},
}

var cancelUser string

var cancelCmd = &cobra.Command{
	Use:   "cancel ORDER",
	Short: "Cancel one of a user's resting orders",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := svc.CancelOrder(cmd.Context(), cancelUser, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s: %d of %d shares unfilled\n", o.ID, o.Remaining(), o.Quantity)
		return nil
	},
}

var positionsGuild string

var positionsCmd = &cobra.Command{
	Use:   "positions USER",
	Short: "Show a user's holdings, open orders and lifetime record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pf, err := svc.Portfolio(cmd.Context(), args[0], positionsGuild)
		if err != nil {
			return err
		}
		return report.Portfolio(cmd.OutOrStdout(), pf)
	},
}

var leaderboardLimit int

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Rank users by lifetime net profit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		entries, err := svc.Leaderboard(cmd.Context(), leaderboardLimit)
		if err != nil {
			return err
		}
		return report.Leaderboard(cmd.OutOrStdout(), entries)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve MARKET yes|no",
	Short: "Resolve a market and pay out positions",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := svc.Resolve(cmd.Context(), args[0], model.Side(args[1]))
		if err != nil {
			return err
		}
		return report.Settlement(cmd.OutOrStdout(), r)
	},
}

var replenishCmd = &cobra.Command{
	Use:   "replenish [MARKET]",
	Short: "Refresh prices and reseed thin books (all active markets by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			ok, err := svc.Replenish(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reseeded: %s\n", args[0], strconv.FormatBool(ok))
			return nil
		}
		sched := liquidity.NewScheduler(svc, cfg.ReplenishInterval(), cfg.Exchange.ReplenishConcurrency)
		n, err := sched.RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d markets reseeded\n", n)
		return nil
	},
}

var houseCmd = &cobra.Command{
	Use:   "house",
	Short: "Show the accumulated settlement fees",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		pot, err := svc.HousePot(cmd.Context())
		if err != nil {
			return err
		}
		return report.House(cmd.OutOrStdout(), pot)
	},
}

func init() {
	marketsCmd.Flags().StringVar(&marketsGuild, "guild", "", "only this guild's markets")
	marketsCmd.Flags().StringVar(&marketsStatus, "status", "", "active or resolved")

	bookCmd.Flags().IntVar(&bookDepth, "depth", 5, "price levels per queue")

	createCmd.Flags().StringVar(&createReq.GuildID, "guild", "", "guild ID")
	createCmd.Flags().StringVar(&createReq.ChannelID, "channel", "", "channel ID")
	createCmd.Flags().StringVar(&createReq.CreatorID, "creator", "", "creator's user ID")
	createCmd.Flags().Int64Var(&createReq.InitialPrice, "price", exchange.DefaultInitialPrice, "initial Yes price in cents")
	createCmd.Flags().Int("week", 0, "resolution week")
	createCmd.MarkFlagRequired("guild")
	createCmd.MarkFlagRequired("creator")

	addTradeFlags(tradeCmd)
	addTradeFlags(postCmd)

	cancelCmd.Flags().StringVar(&cancelUser, "user", "", "user ID owning the order")
	cancelCmd.MarkFlagRequired("user")

	positionsCmd.Flags().StringVar(&positionsGuild, "guild", "", "only this guild's markets")

	leaderboardCmd.Flags().IntVar(&leaderboardLimit, "limit", 10, "entries to show")
}
