package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/closet-scraper/internal/browser"
	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/discovery"
	"github.com/maltedev/closet-scraper/internal/fetcher"
	"github.com/maltedev/closet-scraper/internal/identity"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/output"
	"github.com/maltedev/closet-scraper/internal/parser"
	"github.com/maltedev/closet-scraper/internal/ratelimit"
	"github.com/maltedev/closet-scraper/internal/scraper"
	"github.com/maltedev/closet-scraper/internal/storage"
)

var ErrNoURLs = errors.New("no listing urls to scrape")

// BrowserHandle is a page source that must be released after the run.
type BrowserHandle interface {
	browser.PageSource
	Close() error
}

// BrowserFactory launches a browser for one run.
type BrowserFactory func(ctx context.Context) (BrowserHandle, error)

// Unbounded as a Request.TargetCount collects every listing.
const Unbounded = -1

// Request describes one run. Zero values fall back to configuration.
type Request struct {
	ID          string `json:"id,omitempty"`
	ListingURL  string `json:"listing_url"`
	// TargetCount bounds discovery. 0 uses the configured default, which
	// may itself be 0 for no bound; any negative value, such as Unbounded,
	// always collects every listing.
	TargetCount int    `json:"target_count"`
	Mode        string `json:"mode,omitempty"`
	Fetch       string `json:"fetch,omitempty"`
	Format      string `json:"format,omitempty"`
}

// Report is the outcome of a run.
type Report struct {
	RunID         string          `json:"run_id"`
	SourceURL     string          `json:"source_url"`
	Discovered    int             `json:"discovered"`
	Result        *scraper.Result `json:"result,omitempty"`
	OutputPath    string          `json:"output_path,omitempty"`
	ExecutionTime time.Duration   `json:"execution_time_ns"`
}

// Runner wires discovery, the pipeline and a sink into complete runs. The
// browser is opened per run and closed on every exit path.
type Runner struct {
	cfg        *config.Config
	selectors  *config.Selectors
	browsers   BrowserFactory
	httpClient *http.Client
	store      output.RunStore
	checkpoint *storage.LinkStorage
	sleeper    ratelimit.Sleeper
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type RunnerOption func(*Runner)

// WithRunStore enables the postgres output format.
func WithRunStore(store output.RunStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithCheckpoint records discovered urls and their outcomes.
func WithCheckpoint(ls *storage.LinkStorage) RunnerOption {
	return func(r *Runner) { r.checkpoint = ls }
}

func WithHTTPClient(c *http.Client) RunnerOption {
	return func(r *Runner) { r.httpClient = c }
}

func WithSleeper(s ratelimit.Sleeper) RunnerOption {
	return func(r *Runner) { r.sleeper = s }
}

func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

func NewRunner(cfg *config.Config, selectors *config.Selectors, browsers BrowserFactory, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if selectors == nil {
		selectors = config.DefaultSelectors()
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		cfg:        cfg,
		selectors:  selectors,
		browsers:   browsers,
		httpClient: &http.Client{},
		sleeper:    ratelimit.NewRandomSleeper(time.Now().UnixNano()),
		logger:     logger.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Discover collects listing urls and checkpoints them.
func (r *Runner) Discover(ctx context.Context, listingURL string, target int) ([]string, error) {
	req := r.normalize(Request{ListingURL: listingURL, TargetCount: target})

	b, err := r.browsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer r.closeBrowser(b)

	urls, err := r.discover(ctx, b, req)
	if len(urls) > 0 {
		r.checkpointURLs(urls, req.ListingURL)
	}
	return urls, err
}

// Scrape runs the pipeline over urls and saves the products.
func (r *Runner) Scrape(ctx context.Context, req Request, urls []string, progress scraper.ProgressFunc) (*Report, error) {
	req = r.normalize(req)
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}

	var b BrowserHandle
	if needsBrowser(req) {
		var err error
		if b, err = r.browsers(ctx); err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		defer r.closeBrowser(b)
	}

	start := time.Now()
	report := &Report{RunID: req.ID, SourceURL: req.ListingURL, Discovered: len(urls)}
	return r.scrape(ctx, b, req, urls, progress, start, report)
}

// Execute discovers and scrapes in one run sharing one browser.
func (r *Runner) Execute(ctx context.Context, req Request, progress scraper.ProgressFunc) (*Report, error) {
	req = r.normalize(req)
	start := time.Now()

	b, err := r.browsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer r.closeBrowser(b)

	report := &Report{RunID: req.ID, SourceURL: req.ListingURL}

	urls, err := r.discover(ctx, b, req)
	report.Discovered = len(urls)
	if err != nil && len(urls) == 0 {
		return report, err
	}
	if err != nil {
		r.logger.Warn("discovery ended early", "found", len(urls), "error", err)
	}
	if len(urls) == 0 {
		return report, ErrNoURLs
	}
	r.checkpointURLs(urls, req.ListingURL)

	return r.scrape(ctx, b, req, urls, progress, start, report)
}

func (r *Runner) discover(ctx context.Context, pages browser.PageSource, req Request) ([]string, error) {
	d := discovery.New(pages, r.selectors, r.sleeper, discovery.Options{
		SettleInterval: r.cfg.Discovery.SettleInterval,
		InitialWait:    r.cfg.Discovery.InitialWait,
		MaxScrolls:     r.cfg.Discovery.MaxScrolls,
	}, r.metrics, r.logger)

	r.logger.Info("discovering listings", "run_id", req.ID, "url", req.ListingURL, "target", req.TargetCount)
	return d.Discover(ctx, req.ListingURL, req.TargetCount)
}

func (r *Runner) scrape(ctx context.Context, b BrowserHandle, req Request, urls []string, progress scraper.ProgressFunc, start time.Time, report *Report) (*Report, error) {
	sink, err := r.sink(req.Format)
	if err != nil {
		return report, err
	}

	pipeline, err := r.pipeline(b, req)
	if err != nil {
		return report, err
	}
	pipeline.OnProgress(progress)

	result, runErr := pipeline.Run(ctx, urls)
	if result == nil {
		return report, runErr
	}
	report.Result = result
	report.ExecutionTime = time.Since(start)

	if r.checkpoint != nil {
		if err := r.checkpoint.MarkResults(result.Summary.Successes, result.Summary.Failures); err != nil {
			r.logger.Warn("failed to checkpoint results", "error", err)
		}
	}

	// products already scraped are saved even when the run was cancelled
	path, err := sink.Save(context.WithoutCancel(ctx), result.Products, output.Metadata{
		RunID:         req.ID,
		SourceURL:     req.ListingURL,
		ExecutionTime: report.ExecutionTime,
		ScrapedAt:     time.Now(),
		Summary:       &result.Summary,
	})
	if err != nil {
		return report, errors.Join(runErr, fmt.Errorf("failed to save products: %w", err))
	}
	report.OutputPath = path

	r.logger.Info("run finished",
		"run_id", req.ID,
		"products", len(result.Products),
		"output", path,
		"execution_time", report.ExecutionTime)
	return report, runErr
}

func (r *Runner) pipeline(b BrowserHandle, req Request) (*scraper.Pipeline, error) {
	opts := scraper.OptionsFromConfig(r.cfg, r.selectors)
	opts.Mode = scraper.Mode(req.Mode)

	deps := scraper.Deps{
		Parser:  parser.NewListingParser(r.selectors, r.logger),
		Sleeper: r.sleeper,
		Metrics: r.metrics,
	}

	switch req.Mode {
	case config.ModeSequential:
		if b == nil {
			return nil, errors.New("sequential mode requires a browser")
		}
		deps.Pages = b
	case config.ModeParallel:
		var source fetcher.Source
		if req.Fetch == config.FetchBrowser {
			if b == nil {
				return nil, errors.New("browser fetch requires a browser")
			}
			source = fetcher.NewBrowserSource(b, r.selectors.Detail.Ready)
		} else {
			source = fetcher.NewHTTPSource(r.httpClient)
		}
		deps.Fetcher = fetcher.NewRetrying(source, NewIdentities(r.cfg), r.sleeper, FetchOptions(r.cfg), r.metrics, r.logger)
	default:
		return nil, fmt.Errorf("%w: %q", scraper.ErrInvalidMode, req.Mode)
	}

	return scraper.NewPipeline(opts, deps, r.logger), nil
}

func (r *Runner) sink(format string) (output.Sink, error) {
	if format == config.FormatPostgres {
		if r.store == nil {
			return nil, errors.New("postgres output requires a database connection")
		}
		return output.NewPostgresSink(r.store, r.logger), nil
	}
	return output.NewFileSink(format, r.cfg.Output.Dir, r.logger)
}

func (r *Runner) normalize(req Request) Request {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.ListingURL == "" {
		req.ListingURL = r.cfg.Discovery.ListingURL
	}
	if req.TargetCount == 0 {
		req.TargetCount = r.cfg.Discovery.TargetCount
	}
	if req.Mode == "" {
		req.Mode = r.cfg.Scraper.Mode
	}
	if req.Fetch == "" {
		req.Fetch = r.cfg.Scraper.Fetch
	}
	if req.Format == "" {
		req.Format = r.cfg.Output.Format
	}
	return req
}

func (r *Runner) checkpointURLs(urls []string, source string) {
	if r.checkpoint == nil {
		return
	}
	added, err := r.checkpoint.AddBatch(urls, source)
	if err != nil {
		r.logger.Warn("failed to checkpoint urls", "error", err)
		return
	}
	r.logger.Info("checkpointed urls", "added", added, "total", r.checkpoint.GetStats()["total"])
}

func (r *Runner) closeBrowser(b BrowserHandle) {
	if err := b.Close(); err != nil {
		r.logger.Warn("failed to close browser", "error", err)
	}
}

func needsBrowser(req Request) bool {
	return req.Mode == config.ModeSequential || req.Fetch == config.FetchBrowser
}

// NewIdentities builds the rotating identity provider from configuration.
func NewIdentities(cfg *config.Config) identity.Provider {
	return identity.NewRotating(identity.Options{
		UserAgents:     cfg.Scraper.UserAgents,
		MinWidth:       cfg.Browser.ViewportMinWidth,
		MaxWidth:       cfg.Browser.ViewportMaxWidth,
		MinHeight:      cfg.Browser.ViewportMinHeight,
		MaxHeight:      cfg.Browser.ViewportMaxHeight,
		Locale:         cfg.Browser.Locale,
		TimezoneID:     cfg.Browser.TimezoneID,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		Headers:        identity.DocumentHeaders(),
	}, time.Now().UnixNano())
}

// FetchOptions maps the retry settings onto the fetcher.
func FetchOptions(cfg *config.Config) fetcher.Options {
	opts := fetcher.DefaultOptions()
	opts.MaxAttempts = cfg.Scraper.MaxAttempts
	opts.Backoff = ratelimit.NewBand(cfg.Scraper.BackoffMin, cfg.Scraper.BackoffMax)
	opts.Timeout = ratelimit.NewBand(cfg.Scraper.TimeoutMin, cfg.Scraper.TimeoutMax)
	return opts
}

// BrowserOptions maps the browser settings onto playwright launch options.
func BrowserOptions(cfg *config.Config) *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.SlowMo = cfg.Browser.SlowMo
	opts.ProxyServer = cfg.Browser.ProxyServer
	opts.NavigationTimeout = cfg.Browser.NavigationTimeout
	opts.Timeout = cfg.Browser.Timeout
	return opts
}

// PlaywrightFactory launches a real Chromium per run.
func PlaywrightFactory(cfg *config.Config, logger *slog.Logger) BrowserFactory {
	return func(ctx context.Context) (BrowserHandle, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := browser.New(BrowserOptions(cfg), NewIdentities(cfg), logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
