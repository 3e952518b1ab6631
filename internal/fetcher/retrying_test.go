package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/identity"
	"github.com/maltedev/closet-scraper/internal/metrics"
	"github.com/maltedev/closet-scraper/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSource is a mock for Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Fetch(ctx context.Context, url string, id identity.Identity, timeout time.Duration) (*goquery.Document, error) {
	args := m.Called(ctx, url, id, timeout)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*goquery.Document), args.Error(1)
}

// countingIdentities numbers every identity it hands out.
type countingIdentities struct {
	n atomic.Int64
}

func (c *countingIdentities) Next() identity.Identity {
	return identity.Identity{UserAgent: fmt.Sprintf("ua-%d", c.n.Add(1))}
}

func testDoc(t *testing.T) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<h1>ok</h1>"))
	require.NoError(t, err)
	return doc
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetrying_FirstAttemptSucceeds(t *testing.T) {
	src := new(MockSource)
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).Return(testDoc(t), nil).Once()

	sleeper := &ratelimit.NopSleeper{}
	r := NewRetrying(src, &countingIdentities{}, sleeper, DefaultOptions(), nil, quietLogger())

	doc, err := r.Fetch(context.Background(), listingURL)
	require.NoError(t, err)
	assert.Equal(t, "ok", doc.Find("h1").Text())
	assert.Empty(t, sleeper.Bands(), "no backoff before the first attempt")
	src.AssertExpectations(t)
}

func TestRetrying_SucceedsOnThirdAttempt(t *testing.T) {
	src := new(MockSource)
	var identities []string
	var timeouts []time.Duration
	record := func(args mock.Arguments) {
		identities = append(identities, args.Get(2).(identity.Identity).UserAgent)
		timeouts = append(timeouts, args.Get(3).(time.Duration))
	}
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).
		Run(record).Return(nil, errors.New("reset by peer")).Twice()
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).
		Run(record).Return(testDoc(t), nil).Once()

	sleeper := &ratelimit.NopSleeper{}
	m := metrics.New()
	r := NewRetrying(src, &countingIdentities{}, sleeper, DefaultOptions(), m, quietLogger())

	_, err := r.Fetch(context.Background(), listingURL)
	require.NoError(t, err)

	assert.Equal(t, []string{"ua-1", "ua-2", "ua-3"}, identities, "fresh identity per attempt")
	for _, to := range timeouts {
		assert.GreaterOrEqual(t, to, 10*time.Second)
		assert.LessOrEqual(t, to, 15*time.Second)
	}

	bands := sleeper.Bands()
	require.Len(t, bands, 2)
	assert.Equal(t, ratelimit.Band{Min: 2 * time.Second, Max: 7 * time.Second}, bands[0])
	assert.Equal(t, ratelimit.Band{Min: 2 * time.Second, Max: 8 * time.Second}, bands[1])

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetriesTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("detail")))
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	first := errors.New("first")
	last := ErrTimeout{Err: context.DeadlineExceeded}

	src := new(MockSource)
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).Return(nil, first).Twice()
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).Return(nil, last).Once()

	r := NewRetrying(src, &countingIdentities{}, &ratelimit.NopSleeper{}, DefaultOptions(), nil, quietLogger())

	doc, err := r.Fetch(context.Background(), listingURL)
	assert.Nil(t, doc)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, listingURL, fe.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "wraps the last cause")
	assert.NotErrorIs(t, err, first)
	assert.Equal(t, "timeout", ErrorLabel(err))
	src.AssertNumberOfCalls(t, "Fetch", 3)
}

func TestRetrying_NilDocumentIsFailure(t *testing.T) {
	src := new(MockSource)
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).Return(nil, nil)

	opts := DefaultOptions()
	opts.MaxAttempts = 2
	r := NewRetrying(src, &countingIdentities{}, &ratelimit.NopSleeper{}, opts, nil, quietLogger())

	_, err := r.Fetch(context.Background(), listingURL)
	assert.ErrorIs(t, err, ErrEmptyDocument)
	src.AssertNumberOfCalls(t, "Fetch", 2)
}

func TestRetrying_NotFoundStopsEarly(t *testing.T) {
	src := new(MockSource)
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).
		Return(nil, ErrNotFound{Err: &StatusError{URL: listingURL, Code: 404}})

	r := NewRetrying(src, &countingIdentities{}, &ratelimit.NopSleeper{}, DefaultOptions(), nil, quietLogger())

	_, err := r.Fetch(context.Background(), listingURL)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	src.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestRetrying_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	src := new(MockSource)
	src.On("Fetch", mock.Anything, listingURL, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, errors.New("boom"))

	r := NewRetrying(src, &countingIdentities{}, ratelimit.NewRandomSleeper(1), DefaultOptions(), nil, quietLogger())

	start := time.Now()
	_, err := r.Fetch(ctx, listingURL)
	assert.Less(t, time.Since(start), time.Second)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Attempts)
	src.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestFetchError_Message(t *testing.T) {
	err := &FetchError{URL: "u", Attempts: 3, Err: errors.New("eof")}
	assert.Equal(t, "fetch u failed after 3 attempts: eof", err.Error())
}
