package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProduct(id string) *models.Product {
	p := models.NewProduct(id, "https://poshmark.com/listing/Item-"+id)
	p.Title = "Floral Midi Dress"
	p.Brand = "Anthropologie"
	p.Price = "$40"
	p.DiscountedPrice = "$25"
	p.Colors = []string{"Blue", "White"}
	p.ImageURLs = []string{"https://cdn.poshmark.com/a.jpg"}
	p.SellerUsername = "peechypies"
	return p
}

func TestListingRepository_SaveRun(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewListingRepository(db, "")
	start := time.Now().Add(-time.Minute)
	run := RunRecord{
		ID:            uuid.New(),
		SourceURL:     "https://poshmark.com/closet/peechypies",
		Total:         3,
		Succeeded:     2,
		Failed:        1,
		Failures:      []models.Failure{{URL: "https://poshmark.com/listing/x", Reason: "timeout"}},
		StartedAt:     start,
		FinishedAt:    time.Now(),
		ExecutionTime: time.Minute,
	}

	n, err := repo.SaveRun(ctx, run, []*models.Product{sampleProduct("1111111111"), nil, sampleProduct("2222222222")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.GetListing(ctx, "1111111111")
	require.NoError(t, err)
	assert.Equal(t, "Floral Midi Dress", got.Title)
	assert.Equal(t, []string{"Blue", "White"}, got.Colors)
	assert.Empty(t, got.Categories)

	count, err := repo.CountListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	events, err := NewOutboxRepository(db).GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, EventListingScraped, e.EventType)
		assert.Equal(t, DefaultStream, e.TargetStream)
	}

	var failed int
	require.NoError(t, db.QueryRow(ctx, "SELECT failed FROM scrape_runs WHERE id = $1", run.ID).Scan(&failed))
	assert.Equal(t, 1, failed)
}

func TestListingRepository_UpsertKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewListingRepository(db, DefaultStream)
	p := sampleProduct("3333333333")

	_, err := repo.SaveRun(ctx, RunRecord{SourceURL: "a", StartedAt: time.Now(), FinishedAt: time.Now()}, []*models.Product{p})
	require.NoError(t, err)

	p.Price = "$30"
	_, err = repo.SaveRun(ctx, RunRecord{SourceURL: "a", StartedAt: time.Now(), FinishedAt: time.Now()}, []*models.Product{p})
	require.NoError(t, err)

	count, err := repo.CountListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.GetListing(ctx, "3333333333")
	require.NoError(t, err)
	assert.Equal(t, "$30", got.Price)
}

func TestListingRepository_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := NewListingRepository(db, "").GetListing(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrListingNotFound)
}
