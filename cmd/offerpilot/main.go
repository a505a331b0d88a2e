package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/offerpilot/internal/config"
	"github.com/TobiSchelling/offerpilot/internal/database"
	"github.com/TobiSchelling/offerpilot/internal/ledger"
	"github.com/TobiSchelling/offerpilot/internal/offer"
	"github.com/TobiSchelling/offerpilot/internal/pipeline"
	"github.com/TobiSchelling/offerpilot/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "offerpilot",
	Short:   "Daily affiliate offer selection and dispatch",
	Long:    "OfferPilot collects product offers, picks the day's best, schedules them into time blocks and sends them out.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return config.InitLogger(config.LogConfig{Level: "info", Format: "console"})
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return eris.Wrap(err, "loading config")
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return err
		}
		return cfg.Validate()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(pickCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(productsCmd)
	rootCmd.AddCommand(ledgerCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("offerpilot", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/offerpilot/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return eris.Wrap(err, "creating config directory")
		}
		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return eris.Wrap(err, "writing config")
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sources, blocks and the dispatch sink.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog, plan and ledger counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		today := database.GetToday(cfg.Location())
		stats, err := db.GetStats(cmd.Context(), today)
		if err != nil {
			return err
		}

		fmt.Printf("Today: %s (%s)\n\n", today, cfg.Location())
		fmt.Println("Catalog:")
		fmt.Printf("  Products: %d\n", stats.Products)
		fmt.Printf("  Active: %d\n", stats.Active)
		fmt.Printf("  Paused: %d\n", stats.Paused)
		fmt.Println("\nToday:")
		fmt.Printf("  Planned slots: %d\n", stats.PlannedToday)
		fmt.Printf("  Sent: %d\n", stats.SentToday)
		fmt.Println("\nHistory:")
		fmt.Printf("  Ledger rows: %d\n", stats.LedgerRows)
		if stats.LastRunDay != "" {
			fmt.Printf("  Last run: %s\n", stats.LastRunDay)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

// --- fetch / pick / run ---

var dryRun bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Collect offers from configured sources and refresh the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := openPipeline()
		if err != nil {
			return err
		}
		defer cleanup()

		fetched, err := pipe.Fetch(cmd.Context(), dryRun)
		if err != nil {
			return err
		}
		fmt.Println("Fetch complete:")
		fmt.Printf("  Records: %d\n", fetched.Records)
		fmt.Printf("  Offers: %d\n", len(fetched.Offers))
		fmt.Printf("  Prices enriched from catalog: %d\n", fetched.Enriched)
		if fetched.CentsFix {
			fmt.Println("  Prices were in cents and have been rescaled")
		}
		if dryRun {
			fmt.Println("  [dry-run] catalog not written")
		}
		return nil
	},
}

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Show which offers would be selected today without writing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := openPipeline()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := cmd.Context()
		fetched, err := pipe.Fetch(ctx, true)
		if err != nil {
			return err
		}
		picked, err := pipe.Pick(ctx, fetched.Offers)
		if err != nil {
			printFunnel(cmd.OutOrStdout(), err)
			return err
		}

		fmt.Printf("Gate pass: %s\n", picked.Gate.Pass)
		for _, s := range picked.Gate.Funnel() {
			fmt.Printf("  %-24s %d\n", s.Name, s.Count)
		}
		if len(picked.Scored.Dropped) > 0 {
			fmt.Printf("Signals missing batch-wide: %v\n", picked.Scored.Dropped)
		}
		fmt.Printf("\nSelected %d offers:\n", len(picked.Selection.Items))
		for i, it := range picked.Selection.Items {
			fmt.Printf("  %2d. [%.3f] %s (%s)\n", i+1, it.Score, it.Title, it.Category)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: fetch -> pick -> shorten -> plan -> export",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipe, cleanup, err := openPipeline()
		if err != nil {
			return err
		}
		defer cleanup()

		result := pipe.Run(cmd.Context(), dryRun)
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/5: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
				printFunnel(cmd.OutOrStdout(), step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if err := result.Err(); err != nil {
			return err
		}
		if !dryRun {
			fmt.Println("\nPlan ready! Run 'offerpilot dispatch' to send it.")
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Do not write the catalog")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without writing or requesting short links")
}

// --- serve ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return server.Serve(cmd.Context(), db, cfg.Location(), port, cfg.Server.AllowedOrigins)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config)")
}

// printFunnel writes the stage-by-stage gate counts when err is a
// DataQualityError.
func printFunnel(w io.Writer, err error) {
	var dq *offer.DataQualityError
	if !errors.As(err, &dq) {
		return
	}
	fmt.Fprintln(w, "  Eligibility funnel:")
	for _, line := range strings.Split(strings.TrimRight(dq.Report(), "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func openDB() (*database.DB, error) {
	if err := os.MkdirAll(cfg.GetDataDir(), 0o755); err != nil {
		return nil, eris.Wrap(err, "creating data directory")
	}
	return database.Open(cfg.DBPath())
}

// openLedger opens the database and the cooldown ledger with its lock
// backend. The returned func releases everything.
func openLedger() (*database.DB, *ledger.Ledger, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, nil, err
	}
	locker, client := pipeline.NewLocker(cfg, db)
	cleanup := func() {
		if client != nil {
			_ = client.Close()
		}
		db.Close()
	}
	return db, pipeline.NewLedger(cfg, db, locker), cleanup, nil
}

func openPipeline() (*pipeline.Pipeline, func(), error) {
	db, l, cleanup, err := openLedger()
	if err != nil {
		return nil, nil, err
	}
	pipe, err := pipeline.New(cfg, db, l)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return pipe, cleanup, nil
}
