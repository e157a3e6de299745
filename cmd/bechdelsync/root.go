package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alvmarrod/bechdel-mirror/internal/config"
	"github.com/alvmarrod/bechdel-mirror/internal/memory"
	"github.com/alvmarrod/bechdel-mirror/internal/metrics"
	"github.com/alvmarrod/bechdel-mirror/internal/scraper"
	"github.com/alvmarrod/bechdel-mirror/internal/storage"
	"github.com/alvmarrod/bechdel-mirror/internal/syncer"
	"github.com/alvmarrod/bechdel-mirror/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	configPath  string
	dbDriver    string
	dbDSN       string
	listURL     string
	metricsPath string
	logLevel    string
	dryRun      bool
	rescrape    []int
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "bechdelsync",
		Short: "Mirror the bechdeltest.com listing into a relational store",
		Long: `bechdelsync scrapes the per-year movie counts from bechdeltest.com,
compares them with the counts stored by the previous run, and re-scrapes
only the years whose count changed or that are new.

Examples:
  # Sync into the default SQLite database (bechdel.db)
  bechdelsync

  # Sync into PostgreSQL
  bechdelsync --db-driver postgres --db "postgres://localhost:5432/bechdel?sslmode=disable"

  # See what would change without writing anything
  bechdelsync --dry-run

  # Recover movies for a year whose page fetch failed in an earlier run
  bechdelsync --rescrape-year 2020`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a JSON config file")
	flags.StringVar(&opts.dbDriver, "db-driver", "", "Database driver (sqlite3 or postgres)")
	flags.StringVar(&opts.dbDSN, "db", "", "Database path or connection string")
	flags.StringVar(&opts.listURL, "list-url", "", "URL of the all-movies listing page")
	flags.StringVar(&opts.metricsPath, "metrics", "", "Where to write run metrics as JSON")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $LOGLEVEL or info")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Reconcile and scrape without writing to the database")
	flags.IntSliceVar(&opts.rescrape, "rescrape-year", nil, "Re-scrape movies for these years even if their count is unchanged (repeatable)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	})

	return cmd
}

// loadConfig builds the effective configuration: file (or defaults),
// then flag overrides
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		cfg, err = config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, err
		}
	}

	if opts.dbDriver != "" {
		cfg.DBDriver = opts.dbDriver
	}
	if opts.dbDSN != "" {
		cfg.DBDSN = opts.dbDSN
	}
	if opts.listURL != "" {
		cfg.SetListURL(opts.listURL)
	}
	if opts.metricsPath != "" {
		cfg.MetricsPath = opts.metricsPath
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = opts.dryRun
	}
	if len(opts.rescrape) > 0 {
		cfg.RescrapeYears = opts.rescrape
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setLogLevel(flagLevel string) error {
	level := flagLevel
	if level == "" {
		level = os.Getenv("LOGLEVEL")
	}
	if level == "" {
		level = "info"
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	return nil
}

func runSync(cmd *cobra.Command, opts *options) error {
	if err := setLogLevel(opts.logLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	logrus.Infof("bechdelsync v%s starting...", version.Version)

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		logrus.Errorf("Failed to load config: %v", err)
		return err
	}
	logrus.Infof("Configuration loaded: list=%s, driver=%s, dry_run=%t", cfg.ListURL, cfg.DBDriver, cfg.DryRun)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logrus.Warnf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	store, err := storage.NewStorage(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logrus.Errorf("Failed to initialize storage: %v", err)
		return err
	}
	defer store.Close()
	logrus.Infof("Database connected: %s", cfg.DBDriver)

	tracker := metrics.NewTracker()
	fetcher := scraper.NewCollyFetcher(
		time.Duration(cfg.RequestTimeoutMs)*time.Millisecond,
		cfg.UserAgent,
		func(url string, elapsed time.Duration, err error) {
			tracker.RecordFetch(elapsed, err)
		},
	)

	var counts syncer.CountStore = store
	var movies syncer.MovieStore = store
	if cfg.DryRun {
		if err := store.EnsureSchema(ctx); err != nil {
			logrus.Errorf("Failed to initialize schema: %v", err)
			return err
		}
		mem := memory.NewStore()
		if err := mem.LoadFromStorage(ctx, store); err != nil {
			logrus.Errorf("Failed to load dry-run state: %v", err)
			return err
		}
		counts, movies = mem, mem
	}

	report, err := syncer.New(cfg, fetcher, counts, movies, tracker).Run(ctx)

	reason := "completed"
	switch {
	case err != nil && ctx.Err() != nil:
		reason = "signal"
	case err != nil:
		reason = "failed"
	case len(report.StaleYears) == 0 && len(report.RescrapedYears) == 0:
		reason = "no_changes"
	}

	logrus.Info("Final stats: " + tracker.LogProgress())
	if werr := tracker.WriteToFile(cfg.MetricsPath, reason); werr != nil {
		logrus.Errorf("Failed to write metrics: %v", werr)
	} else {
		logrus.Infof("Metrics written to %s", cfg.MetricsPath)
	}

	if err != nil {
		var stageErr *syncer.StageError
		if errors.As(err, &stageErr) {
			logrus.WithFields(logrus.Fields{
				"stage": stageErr.Stage,
				"year":  stageErr.Year,
			}).Errorf("Sync failed: %v", stageErr.Err)
		} else {
			logrus.Errorf("Sync failed: %v", err)
		}
		return err
	}

	if cfg.DryRun {
		logrus.Infof("Dry run: %d inserts, %d updates and %d new movies were not written",
			report.Inserted, report.Updated, report.MoviesSaved)
	}
	logrus.Infof("Sync complete: %d stale years, %d re-scraped years, %d movies saved",
		len(report.StaleYears), len(report.RescrapedYears), report.MoviesSaved)
	return nil
}
