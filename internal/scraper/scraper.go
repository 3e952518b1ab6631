package scraper

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/ratelimit"
	"github.com/maltedev/closet-scraper/internal/summary"
)

var (
	ErrRunning     = errors.New("pipeline is already running")
	ErrInvalidMode = errors.New("invalid pipeline mode")
	ErrNoSource    = errors.New("pipeline has no source for the selected mode")
)

// SkippedReason is recorded for items that were never started because the
// run was cancelled.
const SkippedReason = "skipped: context canceled"

type Mode string

const (
	ModeSequential Mode = config.ModeSequential
	ModeParallel   Mode = config.ModeParallel
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DocumentFetcher loads one detail page, retrying as it sees fit.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// ProgressFunc is called after every item with the number of items done.
type ProgressFunc func(done, total int)

// Result is what a run produced. Products keeps input order.
type Result struct {
	Products []*models.Product `json:"products"`
	Summary  summary.Snapshot  `json:"summary"`
}

type Options struct {
	Mode    Mode
	Workers int
	// SessionLimit is the number of items one page serves before it is
	// replaced in sequential mode.
	SessionLimit int

	SessionPause   ratelimit.Band
	NavigateDelay  ratelimit.Band
	AfterItemDelay ratelimit.Band
	PreFetchDelay  ratelimit.Band

	ScrollSteps int
	ScrollPause ratelimit.Band
	ScrollPxMin int
	ScrollPxMax int

	ReadySelector     string
	ReadyTimeout      time.Duration
	NavigationTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Mode:              ModeSequential,
		Workers:           DefaultWorkers(),
		SessionLimit:      10,
		SessionPause:      ratelimit.NewBand(5*time.Second, 10*time.Second),
		NavigateDelay:     ratelimit.NewBand(2*time.Second, 5*time.Second),
		AfterItemDelay:    ratelimit.NewBand(2*time.Second, 4*time.Second),
		PreFetchDelay:     ratelimit.NewBand(500*time.Millisecond, 2*time.Second),
		ScrollSteps:       2,
		ScrollPause:       ratelimit.NewBand(3*time.Second, 8*time.Second),
		ScrollPxMin:       300,
		ScrollPxMax:       800,
		ReadySelector:     "h1",
		ReadyTimeout:      15 * time.Second,
		NavigationTimeout: 30 * time.Second,
	}
}

// DefaultWorkers bounds the pool by the available parallelism, capped at 4.
func DefaultWorkers() int {
	return min(runtime.GOMAXPROCS(0), 4)
}

// OptionsFromConfig maps the loaded configuration onto pipeline options.
func OptionsFromConfig(cfg *config.Config, selectors *config.Selectors) Options {
	opts := DefaultOptions()
	opts.Mode = Mode(cfg.Scraper.Mode)
	if cfg.Scraper.Workers > 0 {
		opts.Workers = cfg.Scraper.Workers
	}
	opts.SessionLimit = cfg.Scraper.SessionLimit

	d := cfg.Delays
	opts.SessionPause = ratelimit.NewBand(d.SessionMin, d.SessionMax)
	opts.NavigateDelay = ratelimit.NewBand(d.NavigateMin, d.NavigateMax)
	opts.AfterItemDelay = ratelimit.NewBand(d.AfterItemMin, d.AfterItemMax)
	opts.PreFetchDelay = ratelimit.NewBand(d.PreFetchMin, d.PreFetchMax)
	opts.ScrollSteps = d.ScrollSteps
	opts.ScrollPause = ratelimit.NewBand(d.ScrollMin, d.ScrollMax)
	opts.ScrollPxMin = d.ScrollPxMin
	opts.ScrollPxMax = d.ScrollPxMax

	opts.NavigationTimeout = cfg.Browser.NavigationTimeout
	if selectors != nil && selectors.Detail.Ready != "" {
		opts.ReadySelector = selectors.Detail.Ready
	}
	return opts
}
