package scraper

import (
	"context"

	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/summary"
	"golang.org/x/sync/errgroup"
)

// runParallel fans urls out over at most Workers goroutines. Items never
// fail the group; every outcome goes to the summary.
func (p *Pipeline) runParallel(ctx context.Context, urls []string, products []*models.Product, sum *summary.Summary) {
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	for i, url := range urls {
		if ctx.Err() != nil {
			p.skip(sum, urls[i:], SkippedReason)
			break
		}

		g.Go(func() error {
			if err := p.deps.Sleeper.Sleep(ctx, p.opts.PreFetchDelay); err != nil {
				p.record(sum, models.Outcome{URL: url, Reason: SkippedReason})
				return nil
			}

			outcome := p.fetchAndExtract(context.WithoutCancel(ctx), url)
			if outcome.Success() {
				products[i] = outcome.Product
			}
			p.record(sum, outcome)
			return nil
		})
	}

	_ = g.Wait()
}

func (p *Pipeline) fetchAndExtract(ctx context.Context, url string) models.Outcome {
	p.deps.Metrics.TrackInFlight(1)
	defer p.deps.Metrics.TrackInFlight(-1)

	doc, err := p.deps.Fetcher.Fetch(ctx, url)
	if err != nil {
		return failure(url, err)
	}
	return p.extract(url, doc)
}
