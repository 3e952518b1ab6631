package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/maltedev/closet-scraper/internal/models"
)

// ListSeparator joins multi-valued fields inside one CSV cell.
const ListSeparator = "|"

var csvHeader = []string{
	"product_id", "product_title", "brand_name", "price", "discounted_price",
	"size", "color", "category", "description", "product_url", "image_urls",
	"seller_username", "listing_date",
}

// CSVSink writes one row per product.
type CSVSink struct {
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewCSVSink(dir string, logger *slog.Logger) *CSVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSink{dir: dir, now: time.Now, logger: logger.With("component", "csv_sink")}
}

func (s *CSVSink) Save(ctx context.Context, products []*models.Product, meta Metadata) (string, error) {
	if len(products) == 0 {
		s.logger.Warn("no products to save")
		return "", nil
	}

	path, err := writeAtomic(s.dir, fileName(s.now(), "csv"), func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		for _, p := range products {
			if p == nil {
				continue
			}
			if err := w.Write(record(p)); err != nil {
				return fmt.Errorf("failed to write csv row for %s: %w", p.ProductID, err)
			}
		}
		w.Flush()
		return w.Error()
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("saved products", "count", len(products), "path", path, "source_url", meta.SourceURL)
	return path, nil
}

func record(p *models.Product) []string {
	return []string{
		p.ProductID,
		p.Title,
		p.Brand,
		p.Price,
		p.DiscountedPrice,
		p.Size,
		strings.Join(p.Colors, ListSeparator),
		strings.Join(p.Categories, ListSeparator),
		p.Description,
		p.URL,
		strings.Join(p.ImageURLs, ListSeparator),
		p.SellerUsername,
		p.ListingDate,
	}
}
