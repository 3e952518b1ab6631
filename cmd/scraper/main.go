package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/database"
	"github.com/maltedev/closet-scraper/internal/jobs"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/storage"
	"github.com/maltedev/closet-scraper/pkg/logger"
)

const (
	commandRun      = "run"
	commandDiscover = "discover"
	commandScrape   = "scrape"
)

func main() {
	var (
		command      = flag.String("cmd", commandRun, "What to do: run (discover and scrape), discover, scrape")
		listingURL   = flag.String("url", "", "Closet or search listing URL")
		count        = flag.Int("count", -1, "Number of listings to collect (0 = all)")
		mode         = flag.String("mode", "", "Pipeline mode: sequential or parallel")
		fetch        = flag.String("fetch", "", "Parallel fetch strategy: http or browser")
		format       = flag.String("format", "", "Output format: json, csv or postgres")
		workers      = flag.Int("workers", 0, "Parallel workers (0 = automatic)")
		sessionLimit = flag.Int("session-limit", 0, "Items per browser session in sequential mode")
		outDir       = flag.String("out", "", "Directory for output files")
		storageFile  = flag.String("storage", "", "Checkpoint file for discovered links")
		urls         = flag.String("urls", "", "Comma-separated listing URLs to scrape (scrape command)")
		inputFile    = flag.String("file", "", "File with listing URLs, one per line (scrape command)")
		headless     = flag.Bool("headless", true, "Run browser in headless mode")
		useDB        = flag.Bool("db", false, "Connect to postgres and migrate the schema")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	applyFlags(cfg, *listingURL, *count, *mode, *fetch, *format, *workers, *sessionLimit, *outDir, *storageFile)
	cfg.Browser.Headless = *headless && cfg.Browser.Headless

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.NewWithOptions(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
		Service: "closet-scraper",
	})
	slog.SetDefault(logger)
	logger.Info("Starting closet scraper", "command", *command, "mode", cfg.Scraper.Mode, "format", cfg.Output.Format)

	selectors, err := config.LoadSelectors(cfg.Scraper.SelectorsFile)
	if err != nil {
		logger.Error("Failed to load selectors", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, finishing current item")
		cancel()
	}()

	links, err := storage.NewLinkStorage(cfg.Output.StorageFile)
	if err != nil {
		logger.Error("Failed to open link storage", "error", err)
		os.Exit(1)
	}

	opts := []jobs.RunnerOption{
		jobs.WithCheckpoint(links),
		jobs.WithMetrics(metrics.New()),
	}

	if *useDB || cfg.Output.Format == config.FormatPostgres {
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("Failed to migrate database", "error", err)
			os.Exit(1)
		}
		opts = append(opts, jobs.WithRunStore(database.NewListingRepository(db, cfg.Redis.Stream)))
	}

	runner := jobs.NewRunner(cfg, selectors, jobs.PlaywrightFactory(cfg, logger), logger, opts...)

	var report *jobs.Report
	switch *command {
	case commandDiscover:
		found, err := runner.Discover(ctx, cfg.Discovery.ListingURL, cfg.Discovery.TargetCount)
		if err != nil && len(found) == 0 {
			logger.Error("Discovery failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Discovered %d listings, %d pending in %s\n", len(found), len(links.Pending(0)), cfg.Output.StorageFile)
		return

	case commandScrape:
		targets, err := loadURLs(*urls, *inputFile)
		if err != nil {
			logger.Error("Failed to load urls", "error", err)
			os.Exit(1)
		}
		if len(targets) == 0 {
			targets = links.Pending(cfg.Discovery.TargetCount)
		}
		if len(targets) == 0 {
			fmt.Println("No listings to scrape. Run -cmd discover first or pass -urls / -file.")
			flag.Usage()
			os.Exit(1)
		}
		report, err = runner.Scrape(ctx, jobs.Request{}, targets, nil)
		exitOnRunError(logger, report, err)

	case commandRun:
		report, err = runner.Execute(ctx, jobs.Request{}, nil)
		exitOnRunError(logger, report, err)

	default:
		fmt.Printf("Unknown command %q\n", *command)
		flag.Usage()
		os.Exit(2)
	}

	fmt.Println(report.Result.Summary.Report())
	if report.OutputPath != "" {
		fmt.Printf("Saved %d products to %s\n", len(report.Result.Products), report.OutputPath)
	}
}

func applyFlags(cfg *config.Config, listingURL string, count int, mode, fetch, format string, workers, sessionLimit int, outDir, storageFile string) {
	if listingURL != "" {
		cfg.Discovery.ListingURL = listingURL
	}
	if count >= 0 {
		cfg.Discovery.TargetCount = count
	}
	if mode != "" {
		cfg.Scraper.Mode = mode
	}
	if fetch != "" {
		cfg.Scraper.Fetch = fetch
	}
	if format != "" {
		cfg.Output.Format = strings.ToLower(format)
	}
	if workers > 0 {
		cfg.Scraper.Workers = workers
	}
	if sessionLimit > 0 {
		cfg.Scraper.SessionLimit = sessionLimit
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}
	if storageFile != "" {
		cfg.Output.StorageFile = storageFile
	}
}

// exitOnRunError exits unless the run produced a result worth reporting.
func exitOnRunError(logger *slog.Logger, report *jobs.Report, err error) {
	if err == nil {
		return
	}
	if report == nil || report.Result == nil {
		logger.Error("Run failed", "error", err)
		os.Exit(1)
	}
	logger.Warn("Run ended early", "error", err)
}

func loadURLs(urls, inputFile string) ([]string, error) {
	var list []string

	if urls != "" {
		list = append(list, strings.Split(urls, ",")...)
	}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		list = append(list, strings.Split(string(data), "\n")...)
	}

	out := make([]string, 0, len(list))
	for _, item := range list {
		item = strings.TrimSpace(item)
		if item == "" || strings.HasPrefix(item, "#") {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}
