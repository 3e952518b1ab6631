package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/closet-scraper/internal/database"
	"github.com/maltedev/closet-scraper/internal/models"
)

// RunStore persists a run and its listings atomically.
type RunStore interface {
	SaveRun(ctx context.Context, run database.RunRecord, products []*models.Product) (int, error)
}

// PostgresSink stores products as listings and the run summary as a
// scrape_runs row.
type PostgresSink struct {
	store  RunStore
	logger *slog.Logger
}

func NewPostgresSink(store RunStore, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{store: store, logger: logger.With("component", "postgres_sink")}
}

// Save returns "run:<id>" as the location of the stored run.
func (s *PostgresSink) Save(ctx context.Context, products []*models.Product, meta Metadata) (string, error) {
	if len(products) == 0 {
		s.logger.Warn("no products to save")
		return "", nil
	}

	run := runRecord(meta, len(products))
	n, err := s.store.SaveRun(ctx, run, products)
	if err != nil {
		return "", fmt.Errorf("failed to store run: %w", err)
	}

	s.logger.Info("stored listings", "run_id", run.ID, "count", n)
	return "run:" + run.ID.String(), nil
}

func runRecord(meta Metadata, productCount int) database.RunRecord {
	id, err := uuid.Parse(meta.RunID)
	if err != nil {
		id = uuid.New()
	}

	finished := meta.ScrapedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	run := database.RunRecord{
		ID:            id,
		SourceURL:     meta.SourceURL,
		Total:         productCount,
		Succeeded:     productCount,
		StartedAt:     finished.Add(-meta.ExecutionTime),
		FinishedAt:    finished,
		ExecutionTime: meta.ExecutionTime,
	}
	if snap := meta.Summary; snap != nil {
		run.Total = snap.Total
		run.Succeeded = snap.Succeeded
		run.Failed = snap.Failed
		run.Failures = snap.Failures
		if !snap.StartTime.IsZero() {
			run.StartedAt = snap.StartTime
		}
		if !snap.EndTime.IsZero() {
			run.FinishedAt = snap.EndTime
		}
	}
	return run
}
