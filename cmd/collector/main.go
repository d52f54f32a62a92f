// File: cmd/collector/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JorisJBackis/tikrakaina/internal/common"
	"github.com/JorisJBackis/tikrakaina/internal/config"
	"github.com/JorisJBackis/tikrakaina/internal/jobs"
	"github.com/JorisJBackis/tikrakaina/internal/listing"
	"github.com/JorisJBackis/tikrakaina/internal/platform/database"
	"github.com/JorisJBackis/tikrakaina/internal/platform/logger"
	"github.com/JorisJBackis/tikrakaina/internal/reconciler"
	"github.com/JorisJBackis/tikrakaina/internal/scrape"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type options struct {
	Mode     string `long:"mode" short:"m" choice:"bootstrap" choice:"daily" choice:"test" default:"daily" description:"Collection mode: bootstrap (deep crawl), daily (incremental), test (few pages)"`
	Schedule bool   `long:"schedule" description:"Run as a long-lived process on the cron schedule instead of once"`
	Pages    int    `long:"pages" description:"Override the page limit implied by the mode"`
	Timeout  int    `long:"timeout" default:"7200" description:"Single-run timeout in seconds"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync() //nolint:errcheck

	if err := run(&opts, cfg, appLogger); err != nil {
		if errors.Is(err, common.ErrScrapeFailedHard) {
			appLogger.Error("Collection aborted: hard scrape failure, nothing was written", zap.Error(err))
		} else {
			appLogger.Error("Collection failed", zap.Error(err))
		}
		os.Exit(1)
	}
}

func run(opts *options, cfg *config.Config, appLogger *zap.Logger) error {
	db, err := database.NewGORM(cfg)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer database.CloseGORMDB(db)

	if err := db.AutoMigrate(&listing.Lifecycle{}, &listing.VerifiedPrice{}, &listing.Snapshot{}); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	client := scrape.NewClient(cfg, appLogger)
	rec := reconciler.New(
		scrape.NewFrontier(client, appLogger),
		scrape.NewResolver(client, appLogger),
		listing.NewGORMRepository(db),
		listing.NewGORMVerifiedRepository(db),
		listing.NewGORMSnapshotRepository(db),
		reconciler.Options{
			MissingDaysThreshold: cfg.MissingDaysThreshold,
			MaxListingAgeDays:    cfg.MaxListingAgeDays,
			Workers:              cfg.ResolverWorkers,
		},
		appLogger,
	)

	if opts.Schedule {
		return runScheduled(rec, cfg, appLogger)
	}

	pages := pageLimit(opts, cfg)
	appLogger.Info("Starting collection run",
		zap.String("mode", opts.Mode),
		zap.Int("max_pages", pages))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	defer cancel()

	summary, err := rec.Run(ctx, pages)
	if err != nil {
		return err
	}

	appLogger.Info("Collection run finished",
		zap.String("mode", opts.Mode),
		zap.Int("crawled", summary.Crawled),
		zap.Int("new", summary.New),
		zap.Int("reactivated", summary.Reactivated),
		zap.Int("ended", summary.Ended),
		zap.Int("promoted", summary.Promoted),
		zap.Int("price_changes", summary.PriceChanges),
		zap.Int64("eligible_for_training", summary.EligibleForTraining))
	return nil
}

func runScheduled(rec *reconciler.Reconciler, cfg *config.Config, appLogger *zap.Logger) error {
	job := jobs.NewCollectionJob(rec, appLogger, cfg)
	if err := job.SetupAndStart(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Shutdown signal received", zap.String("signal", sig.String()))

	job.Stop()
	return nil
}

func pageLimit(opts *options, cfg *config.Config) int {
	if opts.Pages > 0 {
		return opts.Pages
	}
	switch opts.Mode {
	case "bootstrap":
		return cfg.BootstrapPageLimit
	case "test":
		return cfg.TestPageLimit
	default:
		return cfg.DailyPageLimit
	}
}
