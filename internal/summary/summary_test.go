package summary

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestSummary_Report(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2*time.Minute + 5*time.Second)

	s := New()
	s.now = fixedClock(start, end)

	s.Start(5)
	s.RecordSuccess("https://poshmark.com/listing/a-1111111111")
	s.RecordSuccess("https://poshmark.com/listing/b-2222222222")
	s.RecordSuccess("https://poshmark.com/listing/c-3333333333")
	s.RecordFailure("https://poshmark.com/listing/d-4444444444", "fetch failed after 3 attempts")
	s.RecordFailure("https://poshmark.com/listing/e-5555555555", "timeout")
	s.Finish()

	report := s.Report()

	assert.True(t, strings.HasPrefix(report, "=== Scraping Summary ===\n\n"))
	assert.Contains(t, report, "Start Time: 2024-03-01T10:00:00.000\n")
	assert.Contains(t, report, "End Time: 2024-03-01T10:02:05.000\n")
	assert.Contains(t, report, "Duration: 2 minutes 5 seconds\n")
	assert.Contains(t, report, "Average time per product: 25.00 seconds\n")
	assert.Contains(t, report, "Total Products: 5\n")
	assert.Contains(t, report, "Successfully Scraped: 3\n")
	assert.Contains(t, report, "Failed: 2\n")
	assert.Contains(t, report, "- https://poshmark.com/listing/d-4444444444 - fetch failed after 3 attempts\n")

	successIdx := strings.Index(report, "=== Successful Products ===")
	failedIdx := strings.Index(report, "=== Failed Products ===")
	require.NotEqual(t, -1, successIdx)
	require.NotEqual(t, -1, failedIdx)
	assert.Less(t, successIdx, failedIdx, "successes are listed before failures")
}

func TestSummary_ReportNoItems(t *testing.T) {
	s := New()
	s.Start(0)
	s.Finish()

	report := s.Report()
	assert.Contains(t, report, "Average time per product: 0.00 seconds")
	assert.Contains(t, report, "Total Products: 0")
	assert.NotContains(t, report, "=== Successful Products ===")
	assert.NotContains(t, report, "=== Failed Products ===")
}

func TestSummary_ReportBeforeFinish(t *testing.T) {
	s := New()
	s.Start(1)

	report := s.Report()
	assert.NotContains(t, report, "Duration:")
	assert.Contains(t, report, "Total Products: 1")
}

func TestSnapshot_JSONTimes(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	s := New()
	s.now = fixedClock(start, end)
	s.Start(1)

	running, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(running, &doc))
	assert.Equal(t, "0001-01-01T00:00:00Z", doc["end_time"], "unfinished runs carry the zero time")

	s.Finish()
	finished, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(finished, &decoded))
	assert.True(t, decoded.StartTime.Equal(start))
	assert.True(t, decoded.EndTime.Equal(end))
}

func TestSummary_FinishNeverBeforeStart(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s := New()
	s.now = fixedClock(start, start.Add(-time.Second))
	s.Start(1)
	s.Finish()

	snap := s.Snapshot()
	assert.False(t, snap.EndTime.Before(snap.StartTime))
	assert.Equal(t, time.Duration(0), snap.Duration)
}

func TestSummary_Record(t *testing.T) {
	s := New()
	s.Start(2)
	s.Record(models.Outcome{URL: "u1", Product: &models.Product{URL: "u1"}})
	s.Record(models.Outcome{URL: "u2", Reason: "boom"})

	snap := s.Snapshot()
	assert.Equal(t, []string{"u1"}, snap.Successes)
	assert.Equal(t, []models.Failure{{URL: "u2", Reason: "boom"}}, snap.Failures)
}

func TestSummary_ConcurrentRecording(t *testing.T) {
	const items = 500

	s := New()
	s.Start(items)

	var wg sync.WaitGroup
	for i := 0; i < items; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			url := fmt.Sprintf("https://poshmark.com/listing/item-%d", i)
			if i%3 == 0 {
				s.RecordFailure(url, "nope")
				return
			}
			s.RecordSuccess(url)
		}(i)
	}
	wg.Wait()
	s.Finish()

	snap := s.Snapshot()
	assert.Equal(t, items, snap.Succeeded+snap.Failed)
	assert.Equal(t, items, snap.Total)
	assert.False(t, snap.EndTime.Before(snap.StartTime))
}

func TestSnapshot_IsCopy(t *testing.T) {
	s := New()
	s.RecordSuccess("a")

	snap := s.Snapshot()
	snap.Successes[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.Snapshot().Successes)
}
