package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/closet-scraper/internal/browser"
	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/ratelimit"
)

// ErrListingNotReady means the listing container never rendered; nothing
// can be discovered.
var ErrListingNotReady = errors.New("listing page did not become ready")

type Options struct {
	SettleInterval time.Duration
	InitialWait    time.Duration
	// MaxScrolls caps scroll cycles; 0 means unlimited.
	MaxScrolls int
}

func DefaultOptions() Options {
	return Options{
		SettleInterval: 2 * time.Second,
		InitialWait:    30 * time.Second,
	}
}

// Discoverer collects listing URLs from an infinitely scrolling closet page.
type Discoverer struct {
	pages     browser.PageSource
	selectors config.ListingSelectors
	baseURL   string
	sleeper   ratelimit.Sleeper
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(pages browser.PageSource, selectors *config.Selectors, sleeper ratelimit.Sleeper, opts Options, m *metrics.Metrics, logger *slog.Logger) *Discoverer {
	if selectors == nil {
		selectors = config.DefaultSelectors()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		pages:     pages,
		selectors: selectors.Listing,
		baseURL:   selectors.BaseURL,
		sleeper:   sleeper,
		opts:      opts,
		metrics:   m,
		logger:    logger.With("component", "discovery"),
	}
}

// Discover scrolls listingURL until targetCount unique item URLs are found
// or a scroll cycle adds nothing new. targetCount <= 0 means no limit. The
// result is in discovery order. On cancellation the URLs found so far are
// returned together with ctx.Err().
func (d *Discoverer) Discover(ctx context.Context, listingURL string, targetCount int) ([]string, error) {
	if targetCount <= 0 {
		targetCount = math.MaxInt
	}

	base, err := d.resolveBase(listingURL)
	if err != nil {
		return nil, err
	}

	page, err := d.pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing page: %w", err)
	}
	defer page.Close()

	d.logger.Info("navigating to listing", "url", listingURL)
	if _, err := page.Navigate(ctx, listingURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingNotReady, err)
	}

	if err := page.WaitForSelector(d.selectors.Item, d.opts.InitialWait); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListingNotReady, err)
	}

	found := newURLSet()
	cycles := 0

	for {
		if err := ctx.Err(); err != nil {
			return found.list(), err
		}

		before := found.len()
		if err := d.collect(page, base, found, targetCount); err != nil {
			return found.list(), err
		}
		added := found.len() - before
		d.metrics.AddDiscovered(added)

		d.logger.Debug("scan complete", "cycle", cycles, "added", added, "total", found.len())

		if found.len() >= targetCount {
			d.logger.Info("target reached", "total", found.len())
			break
		}
		if added == 0 {
			d.logger.Info("no new listings after scroll, stopping", "total", found.len())
			break
		}
		if d.opts.MaxScrolls > 0 && cycles >= d.opts.MaxScrolls {
			d.logger.Warn("scroll limit reached", "max_scrolls", d.opts.MaxScrolls, "total", found.len())
			break
		}

		if err := page.ScrollToBottom(); err != nil {
			d.logger.Warn("scroll failed, stopping", "error", err)
			break
		}
		cycles++

		if err := d.sleeper.Sleep(ctx, ratelimit.NewBand(d.opts.SettleInterval, d.opts.SettleInterval)); err != nil {
			return found.list(), err
		}
	}

	d.logger.Info("discovery finished", "found", found.len(), "scrolls", cycles)
	return found.list(), nil
}

// collect reads every visible item and adds new links until target is hit.
func (d *Discoverer) collect(page browser.Page, base *url.URL, found *urlSet, target int) error {
	items, err := page.QueryAll(d.selectors.Item)
	if err != nil {
		return fmt.Errorf("failed to query listing items: %w", err)
	}

	for i, item := range items {
		href, err := item.ChildAttribute(d.selectors.Link, d.selectors.LinkAttr)
		if err != nil {
			d.logger.Warn("skipping item without link", "index", i, "error", err)
			continue
		}

		abs, err := absolute(base, href)
		if err != nil {
			d.logger.Warn("skipping item with bad link", "index", i, "href", href, "error", err)
			continue
		}

		if found.add(abs) {
			d.logger.Info("discovered listing", "url", abs, "total", found.len(), "target", displayTarget(target))
			if found.len() >= target {
				return nil
			}
		}
	}
	return nil
}

func (d *Discoverer) resolveBase(listingURL string) (*url.URL, error) {
	raw := d.baseURL
	if raw == "" {
		raw = listingURL
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", raw)
	}
	return base, nil
}

func absolute(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", errors.New("empty link")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	return abs.String(), nil
}

func displayTarget(target int) any {
	if target == math.MaxInt {
		return "unbounded"
	}
	return target
}
