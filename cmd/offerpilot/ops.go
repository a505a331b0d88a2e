package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/dispatch"
	"github.com/TobiSchelling/offerpilot/internal/pipeline"
)

var dayFlag string

// resolveDay returns --day or today in the schedule timezone.
func resolveDay() (string, error) {
	if dayFlag == "" {
		return database.GetToday(cfg.Location()), nil
	}
	if _, err := database.ParseDay(dayFlag, cfg.Location()); err != nil {
		return "", err
	}
	return dayFlag, nil
}

// --- plan ---

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the stored plan for a day",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := resolveDay()
		if err != nil {
			return err
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		rows, err := db.GetSelection(ctx, day)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Printf("No plan stored for %s. Run 'offerpilot run' first.\n", day)
			return nil
		}
		sent, err := db.SentIDs(ctx, day)
		if err != nil {
			return err
		}

		fmt.Printf("Plan for %s:\n", database.FormatDayDisplay(day))
		for _, r := range rows {
			if !r.Valid {
				fmt.Printf("  %s  %-2s  -- %s\n", r.SlotTime, r.Block, r.Reason)
				continue
			}
			title := r.ProductID
			if r.Product != nil && r.Product.Title != "" {
				title = r.Product.Title
			}
			mark := " "
			if sent[r.ProductID] {
				mark = "✓"
			}
			fmt.Printf("  %s  %-2s %s [%.3f] %s\n", r.SlotTime, r.Block, mark, r.Score, title)
		}
		return nil
	},
}

// --- dispatch ---

var testMode bool

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send the stored plan through the configured sink, pacing inside the window",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := resolveDay()
		if err != nil {
			return err
		}
		db, l, cleanup, err := openLedger()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		cache := pipeline.NewMediaCache(cfg)
		urls, err := pipeline.PlanImages(ctx, db, day)
		if err != nil {
			return err
		}
		if len(urls) > 0 {
			res, err := cache.Prefetch(ctx, urls)
			if err != nil {
				return err
			}
			fmt.Printf("Images: %d downloaded, %d cached, %d failed\n", res.Downloaded, res.Cached, res.Failed)
		}

		items, err := pipeline.DispatchItems(ctx, db, day, cfg.Location(), cache)
		if err != nil {
			return err
		}

		dc, err := pipeline.DispatchConfig(cfg)
		if err != nil {
			return err
		}
		if testMode {
			dc.TestMode = true
		}
		s, err := pipeline.NewSink(cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}

		zap.L().Info("dispatching",
			zap.String("day", day),
			zap.Int("items", len(items)),
			zap.String("sink", s.Name()),
			zap.Bool("test_mode", dc.TestMode),
		)
		res, err := dispatch.New(dc, s, l).Run(ctx, items)
		if res != nil {
			fmt.Printf("\nDispatch %s: %d sent, %d skipped, %d failed\n",
				res.State, len(res.Sent), res.Skipped, res.Failed)
		}
		return err
	},
}

func init() {
	planCmd.Flags().StringVar(&dayFlag, "day", "", "Day to show (YYYY-MM-DD, default today)")
	dispatchCmd.Flags().StringVar(&dayFlag, "day", "", "Day to send (YYYY-MM-DD, default today)")
	dispatchCmd.Flags().BoolVar(&testMode, "test", false, "Send a single offer and stop")
}

// --- products ---

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Inspect and manage the product catalog",
}

var productStatus string

var productsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		products, err := db.ListProducts(cmd.Context(), productStatus)
		if err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Println("No products. Run 'offerpilot fetch' first.")
			return nil
		}
		for _, p := range products {
			price := "-"
			if p.Price != nil {
				price = fmt.Sprintf("%.2f", *p.Price)
			}
			status := ""
			if p.Status == database.StatusPaused {
				status = " (paused)"
			}
			fmt.Printf("  [%s] %s  %s%s\n", p.ID, price, p.Title, status)
		}
		return nil
	},
}

func setStatusCmd(use, status string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>...",
		Short: strings.ToUpper(use[:1]) + use[1:] + " products",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			for _, id := range args {
				if err := db.SetProductStatus(cmd.Context(), id, status); err != nil {
					if eris.Is(err, database.ErrNotFound) {
						return eris.Errorf("product %s not found", id)
					}
					return err
				}
				fmt.Printf("Product %s: %s\n", id, status)
			}
			return nil
		},
	}
}

func init() {
	productsListCmd.Flags().StringVar(&productStatus, "status", "", "Filter by status (active, paused)")
	productsCmd.AddCommand(productsListCmd)
	productsCmd.AddCommand(setStatusCmd("pause", database.StatusPaused))
	productsCmd.AddCommand(setStatusCmd("resume", database.StatusActive))
}

// --- ledger ---

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the send ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recent sends",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		var entries []database.LedgerEntry
		if dayFlag != "" {
			day, err := resolveDay()
			if err != nil {
				return err
			}
			entries, err = db.LedgerForDay(ctx, day)
			if err != nil {
				return err
			}
		} else {
			entries, err = db.RecentLedger(ctx, ledgerLimit)
			if err != nil {
				return err
			}
		}
		if len(entries) == 0 {
			fmt.Println("Nothing sent yet.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("  %s %s  %-2s %s\n", e.Day, e.Time, e.Block, e.ProductID)
		}
		return nil
	},
}

func init() {
	ledgerListCmd.Flags().StringVar(&dayFlag, "day", "", "Only show sends of this day (YYYY-MM-DD)")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 50, "Number of recent sends to show")
	ledgerCmd.AddCommand(ledgerListCmd)
}
