package output

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/closet-scraper/internal/database"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/summary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.UnixMilli(1718000000123)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func products() []*models.Product {
	a := models.NewProduct("1111111111", "https://poshmark.com/listing/Dress-1111111111")
	a.Title = `Floral "Midi", Dress`
	a.Brand = "Anthropologie"
	a.Price = "$40"
	a.DiscountedPrice = "$25"
	a.Colors = []string{"Blue", "White"}
	a.Categories = []string{"Women", "Dresses"}
	a.Description = "Worn once.\nNo flaws."
	a.ImageURLs = []string{"https://cdn/a.jpg", "https://cdn/b.jpg"}
	a.SellerUsername = "peechypies"

	b := models.NewProduct("2222222222", "https://poshmark.com/listing/Top-2222222222")
	b.Title = "Linen Top"
	return []*models.Product{a, b}
}

func TestJSONSink_Save(t *testing.T) {
	dir := t.TempDir()
	sink := NewJSONSink(dir, quietLogger())
	sink.now = func() time.Time { return fixedNow }

	path, err := sink.Save(context.Background(), products(), Metadata{
		SourceURL:     "https://poshmark.com/closet/peechypies",
		ExecutionTime: 90500 * time.Millisecond,
		ScrapedAt:     fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "poshmark_products_1718000000123.json"), path)
	assert.True(t, filepath.IsAbs(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Metadata map[string]any   `json:"metadata"`
		Products []map[string]any `json:"products"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "https://poshmark.com/closet/peechypies", doc.Metadata["source_url"])
	assert.Equal(t, 2.0, doc.Metadata["total_products"])
	assert.Equal(t, 90.5, doc.Metadata["execution_time_seconds"])
	assert.NotEmpty(t, doc.Metadata["scrape_date"])

	require.Len(t, doc.Products, 2)
	assert.Equal(t, "1111111111", doc.Products[0]["productId"])
	assert.Equal(t, "$25", doc.Products[0]["discountedPrice"])
	assert.Equal(t, []any{"Blue", "White"}, doc.Products[0]["colors"])

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestCSVSink_Save(t *testing.T) {
	dir := t.TempDir()
	sink := NewCSVSink(dir, quietLogger())
	sink.now = func() time.Time { return fixedNow }

	path, err := sink.Save(context.Background(), products(), Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "poshmark_products_1718000000123.csv", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"1111111111", `Floral "Midi", Dress`, "Anthropologie", "$40", "$25", "",
		"Blue|White", "Women|Dresses", "Worn once.\nNo flaws.",
		"https://poshmark.com/listing/Dress-1111111111", "https://cdn/a.jpg|https://cdn/b.jpg",
		"peechypies", "",
	}, rows[1])
	assert.Equal(t, "Linen Top", rows[2][1])
	assert.Equal(t, "", rows[2][6], "empty list is an empty cell")
}

func TestSinks_EmptyProductsWriteNothing(t *testing.T) {
	dir := t.TempDir()
	for _, sink := range []Sink{NewJSONSink(dir, quietLogger()), NewCSVSink(dir, quietLogger())} {
		path, err := sink.Save(context.Background(), nil, Metadata{})
		require.NoError(t, err)
		assert.Empty(t, path)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewFileSink(t *testing.T) {
	s, err := NewFileSink("CSV", t.TempDir(), nil)
	require.NoError(t, err)
	assert.IsType(t, &CSVSink{}, s)

	s, err = NewFileSink("json", t.TempDir(), nil)
	require.NoError(t, err)
	assert.IsType(t, &JSONSink{}, s)

	_, err = NewFileSink("xml", t.TempDir(), nil)
	assert.Error(t, err)
}

// MockRunStore is a mock for RunStore
type MockRunStore struct {
	mock.Mock
}

func (m *MockRunStore) SaveRun(ctx context.Context, run database.RunRecord, products []*models.Product) (int, error) {
	args := m.Called(ctx, run, products)
	return args.Int(0), args.Error(1)
}

func TestPostgresSink_Save(t *testing.T) {
	runID := uuid.New()
	start := fixedNow.Add(-2 * time.Minute)
	snap := &summary.Snapshot{
		StartTime: start,
		EndTime:   fixedNow,
		Total:     3,
		Succeeded: 2,
		Failed:    1,
		Failures:  []models.Failure{{URL: "u", Reason: "timeout"}},
	}
	ps := products()

	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.MatchedBy(func(run database.RunRecord) bool {
		return run.ID == runID &&
			run.Total == 3 && run.Succeeded == 2 && run.Failed == 1 &&
			run.StartedAt.Equal(start) && run.FinishedAt.Equal(fixedNow) &&
			len(run.Failures) == 1
	}), ps).Return(2, nil)

	loc, err := NewPostgresSink(store, quietLogger()).Save(context.Background(), ps, Metadata{
		RunID:         runID.String(),
		SourceURL:     "https://poshmark.com/closet/peechypies",
		ExecutionTime: 2 * time.Minute,
		ScrapedAt:     fixedNow,
		Summary:       snap,
	})
	require.NoError(t, err)
	assert.Equal(t, "run:"+runID.String(), loc)
	store.AssertExpectations(t)
}

func TestPostgresSink_Errors(t *testing.T) {
	store := new(MockRunStore)
	store.On("SaveRun", mock.Anything, mock.Anything, mock.Anything).Return(0, errors.New("connection reset"))

	sink := NewPostgresSink(store, quietLogger())

	_, err := sink.Save(context.Background(), products(), Metadata{})
	assert.ErrorContains(t, err, "failed to store run")

	loc, err := sink.Save(context.Background(), nil, Metadata{})
	require.NoError(t, err)
	assert.Empty(t, loc)
	store.AssertNumberOfCalls(t, "SaveRun", 1)
}

func TestRunRecord_WithoutSummary(t *testing.T) {
	run := runRecord(Metadata{RunID: "not-a-uuid", ExecutionTime: time.Minute, ScrapedAt: fixedNow}, 4)
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, 4, run.Total)
	assert.Equal(t, 4, run.Succeeded)
	assert.Equal(t, fixedNow.Add(-time.Minute), run.StartedAt)
}
