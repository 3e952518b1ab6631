package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/maltedev/closet-scraper/internal/models"
)

type fileMetadata struct {
	SourceURL            string  `json:"source_url"`
	TotalProducts        int     `json:"total_products"`
	ScrapeDate           string  `json:"scrape_date"`
	ExecutionTimeSeconds float64 `json:"execution_time_seconds"`
}

type document struct {
	Metadata fileMetadata      `json:"metadata"`
	Products []*models.Product `json:"products"`
}

// JSONSink writes {"metadata": ..., "products": [...]} documents.
type JSONSink struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewJSONSink(dir string, logger *slog.Logger) *JSONSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONSink{dir: dir, now: time.Now, logger: logger.With("component", "json_sink")}
}

func (s *JSONSink) Save(ctx context.Context, products []*models.Product, meta Metadata) (string, error) {
	if len(products) == 0 {
		s.logger.Warn("no products to save")
		return "", nil
	}

	now := s.now()
	scrapedAt := meta.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = now
	}

	doc := document{
		Metadata: fileMetadata{
			SourceURL:            meta.SourceURL,
			TotalProducts:        len(products),
			ScrapeDate:           scrapedAt.UTC().Format(time.RFC3339Nano),
			ExecutionTimeSeconds: meta.ExecutionTime.Seconds(),
		},
		Products: products,
	}

	path, err := writeAtomic(s.dir, fileName(now, "json"), func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode products: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("saved products", "count", len(products), "path", path)
	return path, nil
}
