package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/browser"
	"github.com/maltedev/closet-scraper/internal/fetcher"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/parser"
	"github.com/maltedev/closet-scraper/internal/ratelimit"
	"github.com/maltedev/closet-scraper/internal/summary"
)

// Deps are the collaborators a Pipeline drives. Pages is required in
// sequential mode, Fetcher in parallel mode.
type Deps struct {
	Pages   browser.PageSource
	Fetcher DocumentFetcher
	Parser  parser.Parser
	Sleeper ratelimit.Sleeper
	Metrics *metrics.Metrics
}

// Pipeline turns a list of detail URLs into products. One Pipeline runs at
// most one batch at a time.
type Pipeline struct {
	opts     Options
	deps     Deps
	progress ProgressFunc
	logger   *slog.Logger

	mu    sync.Mutex
	state State
	done  atomic.Int64
	total atomic.Int64
}

func NewPipeline(opts Options, deps Deps, logger *slog.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers()
	}
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = 1
	}
	if deps.Sleeper == nil {
		deps.Sleeper = ratelimit.NewRandomSleeper(time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:   opts,
		deps:   deps,
		logger: logger.With("component", "pipeline", "mode", string(opts.Mode)),
	}
}

// OnProgress registers fn to be called after every finished item.
func (p *Pipeline) OnProgress(fn ProgressFunc) {
	p.progress = fn
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Progress returns the items finished so far and the size of the batch.
func (p *Pipeline) Progress() (done, total int) {
	return int(p.done.Load()), int(p.total.Load())
}

// Run processes urls in the configured mode. Every URL ends up in the
// summary exactly once. On cancellation the in-flight item is finished,
// the rest are recorded as skipped, and ctx.Err() is returned together
// with the result.
func (p *Pipeline) Run(ctx context.Context, urls []string) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.state == StateRunning {
		p.mu.Unlock()
		return nil, ErrRunning
	}
	p.state = StateRunning
	p.mu.Unlock()

	p.done.Store(0)
	p.total.Store(int64(len(urls)))

	sum := summary.New()
	sum.Start(len(urls))
	products := make([]*models.Product, len(urls))

	p.logger.Info("starting scrape", "urls", len(urls), "workers", p.opts.Workers, "session_limit", p.opts.SessionLimit)

	var err error
	switch p.opts.Mode {
	case ModeSequential:
		err = p.runSequential(ctx, urls, products, sum)
	case ModeParallel:
		p.runParallel(ctx, urls, products, sum)
	}
	if err == nil {
		err = ctx.Err()
	}

	sum.Finish()
	snap := sum.Snapshot()

	result := &Result{Summary: snap, Products: make([]*models.Product, 0, len(urls))}
	for _, product := range products {
		if product != nil {
			result.Products = append(result.Products, product)
		}
	}

	final := StateCompleted
	switch {
	case err != nil && ctx.Err() != nil:
		final = StateCancelled
	case err != nil:
		final = StateFailed
	}
	p.setState(final)
	p.deps.Metrics.IncRun(final.String())

	p.logger.Info("scrape finished",
		"state", final.String(),
		"total", snap.Total,
		"succeeded", snap.Succeeded,
		"failed", snap.Failed,
		"duration", snap.Duration)
	p.logger.Info(snap.Report())

	return result, err
}

func (p *Pipeline) validate() error {
	switch p.opts.Mode {
	case ModeSequential:
		if p.deps.Pages == nil {
			return fmt.Errorf("%w: sequential mode needs a page source", ErrNoSource)
		}
	case ModeParallel:
		if p.deps.Fetcher == nil {
			return fmt.Errorf("%w: parallel mode needs a fetcher", ErrNoSource)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, p.opts.Mode)
	}
	if p.deps.Parser == nil {
		return fmt.Errorf("%w: no parser", ErrNoSource)
	}
	return nil
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// record files one outcome and reports progress.
func (p *Pipeline) record(sum *summary.Summary, o models.Outcome) {
	sum.Record(o)
	if o.Success() {
		p.deps.Metrics.IncItems()
	} else {
		p.deps.Metrics.IncFailed()
		p.logger.Warn("item failed", "url", o.URL, "reason", o.Reason)
	}

	done := p.done.Add(1)
	total := p.total.Load()
	p.logger.Info("progress", "done", done, "total", total)
	if p.progress != nil {
		p.progress(int(done), int(total))
	}
}

// skip records every url as never started.
func (p *Pipeline) skip(sum *summary.Summary, urls []string, reason string) {
	for _, url := range urls {
		p.record(sum, models.Outcome{URL: url, Reason: reason})
	}
}

// extract converts a document into an outcome. A panic anywhere in
// extraction fails only this item.
func (p *Pipeline) extract(url string, doc *goquery.Document) (outcome models.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("extraction panicked", "url", url, "panic", r, "stack", string(debug.Stack()))
			outcome = models.Outcome{URL: url, Reason: fmt.Sprintf("extraction panic: %v", r)}
		}
	}()

	if doc == nil {
		return models.Outcome{URL: url, Reason: fetcher.ErrEmptyDocument.Error()}
	}

	product, warnings := p.deps.Parser.Extract(doc, url)
	for _, w := range warnings {
		p.logger.Debug("field not extracted", "url", url, "field", w.Field, "message", w.Message)
	}
	if product == nil {
		return models.Outcome{URL: url, Reason: "extraction returned no product"}
	}
	if product.IsEmpty() {
		p.logger.Warn("no fields extracted", "url", url, "warnings", len(warnings))
	}

	p.logger.Info("scraped product", "url", url, "product_id", product.ProductID, "title", product.Title)
	return models.Outcome{URL: url, Product: product}
}

func failure(url string, err error) models.Outcome {
	return models.Outcome{URL: url, Reason: err.Error()}
}
