package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/closet-scraper/internal/models"
)

var ErrListingNotFound = errors.New("listing not found")

// RunRecord is one finished scrape run as stored in scrape_runs.
type RunRecord struct {
	ID            uuid.UUID
	SourceURL     string
	Total         int
	Succeeded     int
	Failed        int
	Failures      []models.Failure
	StartedAt     time.Time
	FinishedAt    time.Time
	ExecutionTime time.Duration
}

// ListingRepository stores scraped listings together with their run and
// the outbox events announcing them.
type ListingRepository struct {
	db     *DB
	outbox *OutboxRepository
	stream string
}

func NewListingRepository(db *DB, stream string) *ListingRepository {
	if stream == "" {
		stream = DefaultStream
	}
	return &ListingRepository{
		db:     db,
		outbox: NewOutboxRepository(db),
		stream: stream,
	}
}

// SaveRun records run and upserts every product in a single transaction,
// enqueueing one LISTING_SCRAPED event per product. It returns the number
// of listings written.
func (r *ListingRepository) SaveRun(ctx context.Context, run RunRecord, products []*models.Product) (int, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	failures, err := json.Marshal(nonNilFailures(run.Failures))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal failures: %w", err)
	}

	written := 0
	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO scrape_runs (
				id, source_url, total, succeeded, failed, failures,
				started_at, finished_at, execution_secs
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				total = EXCLUDED.total,
				succeeded = EXCLUDED.succeeded,
				failed = EXCLUDED.failed,
				failures = EXCLUDED.failures,
				finished_at = EXCLUDED.finished_at,
				execution_secs = EXCLUDED.execution_secs`,
			run.ID, run.SourceURL, run.Total, run.Succeeded, run.Failed, failures,
			run.StartedAt, run.FinishedAt, run.ExecutionTime.Seconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert scrape run: %w", err)
		}

		for _, p := range products {
			if p == nil {
				continue
			}
			if err := upsertListing(ctx, tx, run.ID, p); err != nil {
				return err
			}

			event, err := NewListingScrapedEvent(run.ID, p, r.stream)
			if err != nil {
				return err
			}
			if err := r.outbox.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func upsertListing(ctx context.Context, tx pgx.Tx, runID uuid.UUID, p *models.Product) error {
	colors, err := json.Marshal(nonNil(p.Colors))
	if err != nil {
		return fmt.Errorf("failed to marshal colors: %w", err)
	}
	categories, err := json.Marshal(nonNil(p.Categories))
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}
	images, err := json.Marshal(nonNil(p.ImageURLs))
	if err != nil {
		return fmt.Errorf("failed to marshal image urls: %w", err)
	}

	query := `
		INSERT INTO listings (
			product_id, title, brand, price, discounted_price, size,
			colors, categories, description, url, image_urls,
			seller_username, listing_date, last_run_id, scraped_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (product_id) DO UPDATE SET
			title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			price = EXCLUDED.price,
			discounted_price = EXCLUDED.discounted_price,
			size = EXCLUDED.size,
			colors = EXCLUDED.colors,
			categories = EXCLUDED.categories,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			image_urls = EXCLUDED.image_urls,
			seller_username = EXCLUDED.seller_username,
			listing_date = EXCLUDED.listing_date,
			last_run_id = EXCLUDED.last_run_id,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()`

	_, err = tx.Exec(ctx, query,
		p.ProductID, p.Title, p.Brand, p.Price, p.DiscountedPrice, p.Size,
		colors, categories, p.Description, p.URL, images,
		p.SellerUsername, p.ListingDate, runID, p.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", p.ProductID, err)
	}
	return nil
}

// GetListing loads a stored listing by its product id.
func (r *ListingRepository) GetListing(ctx context.Context, productID string) (*models.Product, error) {
	query := `
		SELECT
			product_id, title, brand, price, discounted_price, size,
			colors, categories, description, url, image_urls,
			seller_username, listing_date, scraped_at
		FROM listings
		WHERE product_id = $1`

	var p models.Product
	var colors, categories, images []byte
	err := r.db.pool.QueryRow(ctx, query, productID).Scan(
		&p.ProductID, &p.Title, &p.Brand, &p.Price, &p.DiscountedPrice, &p.Size,
		&colors, &categories, &p.Description, &p.URL, &images,
		&p.SellerUsername, &p.ListingDate, &p.ScrapedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrListingNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{{colors, &p.Colors}, {categories, &p.Categories}, {images, &p.ImageURLs}} {
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode listing %s: %w", productID, err)
		}
	}
	return &p, nil
}

// CountListings returns the number of stored listings.
func (r *ListingRepository) CountListings(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM listings").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilFailures(f []models.Failure) []models.Failure {
	if f == nil {
		return []models.Failure{}
	}
	return f
}
