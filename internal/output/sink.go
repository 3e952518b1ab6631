// Package output persists the products of a run as files or database rows.
package output

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/summary"
)

const filePrefix = "poshmark_products_"

// Metadata describes the run that produced a product list.
type Metadata struct {
	RunID         string
	SourceURL     string
	ExecutionTime time.Duration
	ScrapedAt     time.Time
	Summary       *summary.Snapshot
}

// Sink stores products and returns where they went. An empty product list
// is not stored and yields "".
type Sink interface {
	Save(ctx context.Context, products []*models.Product, meta Metadata) (string, error)
}

// NewFileSink returns the file sink for format ("json" or "csv").
func NewFileSink(format, dir string, logger *slog.Logger) (Sink, error) {
	switch strings.ToLower(format) {
	case config.FormatJSON:
		return NewJSONSink(dir, logger), nil
	case config.FormatCSV:
		return NewCSVSink(dir, logger), nil
	default:
		return nil, fmt.Errorf("unsupported file format %q", format)
	}
}

// fileName is poshmark_products_<unixmillis>.<ext>.
func fileName(now time.Time, ext string) string {
	return fmt.Sprintf("%s%d.%s", filePrefix, now.UnixMilli(), ext)
}

// writeAtomic writes data to a temp file next to path and renames it into
// place, returning the absolute path.
func writeAtomic(dir, name string, write func(f *os.File) error) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move output into place: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}
