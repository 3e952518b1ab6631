package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/identity"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/ratelimit"
)

type Options struct {
	MaxAttempts int
	Backoff     ratelimit.Band
	// BackoffStep raises the backoff upper bound for every attempt after
	// the second.
	BackoffStep time.Duration
	Timeout     ratelimit.Band
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Backoff:     ratelimit.NewBand(2*time.Second, 7*time.Second),
		BackoffStep: time.Second,
		Timeout:     ratelimit.NewBand(10*time.Second, 15*time.Second),
	}
}

// Retrying fetches a URL with a fixed attempt budget. Every attempt uses a
// fresh identity and a randomized timeout; attempts after the first are
// preceded by a randomized backoff.
type Retrying struct {
	source     Source
	identities identity.Provider
	sleeper    ratelimit.Sleeper
	opts       Options
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewRetrying(source Source, identities identity.Provider, sleeper ratelimit.Sleeper, opts Options, m *metrics.Metrics, logger *slog.Logger) *Retrying {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		source:     source,
		identities: identities,
		sleeper:    sleeper,
		opts:       opts,
		metrics:    m,
		logger:     logger.With("component", "fetcher"),
	}
}

// Fetch returns the parsed document or a *FetchError wrapping the cause of
// the last attempt.
func (r *Retrying) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			r.metrics.IncRetries()
			band := r.opts.Backoff.Widen(time.Duration(attempt-2) * r.opts.BackoffStep)
			r.logger.Info("retrying fetch", "url", url, "attempt", attempt, "max_attempts", r.opts.MaxAttempts)
			if err := r.sleeper.Sleep(ctx, band); err != nil {
				lastErr = err
				break
			}
		}

		attempts = attempt
		id := r.identities.Next()
		timeout := r.sleeper.Draw(r.opts.Timeout)

		r.metrics.IncRequest("detail")
		start := time.Now()
		doc, err := r.source.Fetch(ctx, url, id, timeout)
		r.metrics.ObserveDuration(time.Since(start))

		if err == nil && doc != nil {
			return doc, nil
		}
		if err == nil {
			err = ErrEmptyDocument
		}
		lastErr = err

		label := ErrorLabel(err)
		r.metrics.IncError(label)
		r.logger.Warn("fetch attempt failed",
			"url", url,
			"attempt", attempt,
			"max_attempts", r.opts.MaxAttempts,
			"timeout", timeout,
			"error_type", label,
			"error", err)

		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}

	r.logger.Error("all fetch attempts failed", "url", url, "attempts", attempts, "error", lastErr)
	return nil, &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}
