package scraper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/maltedev/closet-scraper/internal/browser"
	"github.com/maltedev/closet-scraper/internal/fetcher"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/summary"
)

// runSequential walks urls on a single page, replacing the page every
// SessionLimit items. Failing to open a page ends the run.
func (p *Pipeline) runSequential(ctx context.Context, urls []string, products []*models.Product, sum *summary.Summary) error {
	var page browser.Page
	defer func() {
		if page != nil {
			page.Close()
		}
	}()

	served := 0
	for i, url := range urls {
		if ctx.Err() != nil {
			p.skip(sum, urls[i:], SkippedReason)
			return ctx.Err()
		}

		if page == nil || served >= p.opts.SessionLimit {
			next, err := p.rotate(ctx, page)
			page = next
			if err != nil {
				if ctx.Err() != nil {
					p.skip(sum, urls[i:], SkippedReason)
					return ctx.Err()
				}
				p.skip(sum, urls[i:], "skipped: "+err.Error())
				return err
			}
			served = 0
		}

		if err := p.deps.Sleeper.Sleep(ctx, p.opts.NavigateDelay); err != nil {
			p.skip(sum, urls[i:], SkippedReason)
			return err
		}

		p.logger.Info("scraping product", "url", url, "index", i+1, "total", len(urls))
		outcome := p.scrapePage(context.WithoutCancel(ctx), page, url)
		if outcome.Success() {
			products[i] = outcome.Product
		}
		p.record(sum, outcome)
		served++

		if i < len(urls)-1 {
			// a cancelled pause falls through to the check at the top
			_ = p.deps.Sleeper.Sleep(ctx, p.opts.AfterItemDelay)
		}
	}
	return nil
}

// rotate closes prev and opens a fresh page with a new identity, then
// pauses before it is used.
func (p *Pipeline) rotate(ctx context.Context, prev browser.Page) (browser.Page, error) {
	if prev != nil {
		if err := prev.Close(); err != nil {
			p.logger.Warn("failed to close page", "error", err)
		}
		p.logger.Info("rotating session", "session_limit", p.opts.SessionLimit)
	}

	page, err := p.deps.Pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	p.deps.Metrics.IncSessions()
	p.logger.Debug("session opened", "user_agent", page.Identity().UserAgent)

	if err := p.deps.Sleeper.Sleep(ctx, p.opts.SessionPause); err != nil {
		return page, err
	}
	return page, nil
}

// scrapePage loads url on the session page, lets it render and scrolls it
// like a reader before extracting.
func (p *Pipeline) scrapePage(ctx context.Context, page browser.Page, url string) models.Outcome {
	p.deps.Metrics.TrackInFlight(1)
	defer p.deps.Metrics.TrackInFlight(-1)

	p.deps.Metrics.IncRequest("detail")
	start := time.Now()
	err := fetcher.Navigate(ctx, page, url, p.opts.NavigationTimeout)
	if err == nil {
		err = fetcher.WaitReady(page, p.opts.ReadySelector, p.opts.ReadyTimeout)
	}
	p.deps.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		p.deps.Metrics.IncError(fetcher.ErrorLabel(err))
		return failure(url, err)
	}

	p.humanScroll(ctx, page)

	doc, err := fetcher.Document(page)
	if err != nil {
		p.deps.Metrics.IncError(fetcher.ErrorLabel(err))
		return failure(url, err)
	}
	return p.extract(url, doc)
}

func (p *Pipeline) humanScroll(ctx context.Context, page browser.Page) {
	for step := 0; step < p.opts.ScrollSteps; step++ {
		if err := page.ScrollBy(p.scrollDistance()); err != nil {
			p.logger.Debug("scroll failed", "error", err)
			return
		}
		if err := p.deps.Sleeper.Sleep(ctx, p.opts.ScrollPause); err != nil {
			return
		}
	}
}

func (p *Pipeline) scrollDistance() int {
	lo, hi := p.opts.ScrollPxMin, p.opts.ScrollPxMax
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}
