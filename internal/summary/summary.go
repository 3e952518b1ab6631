package summary

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/closet-scraper/internal/models"
)

const timeLayout = "2006-01-02T15:04:05.000"

// Summary aggregates per-item outcomes of one run. It is safe for
// concurrent use.
type Summary struct {
	mu        sync.Mutex
	start     time.Time
	end       time.Time
	total     int
	successes []string
	failures  []models.Failure
	now       func() time.Time
}

// Snapshot is a read-only copy of a summary.
type Snapshot struct {
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Duration  time.Duration    `json:"duration_ns"`
	Successes []string         `json:"successes"`
	Failures  []models.Failure `json:"failures"`
}

func New() *Summary {
	return &Summary{now: time.Now}
}

// Start stamps the start time and the number of items expected.
func (s *Summary) Start(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.start = s.now()
	s.total = total
}

func (s *Summary) RecordSuccess(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes = append(s.successes, url)
}

func (s *Summary) RecordFailure(url, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, models.Failure{URL: url, Reason: reason})
}

// Record files an outcome under success or failure.
func (s *Summary) Record(o models.Outcome) {
	if o.Success() {
		s.RecordSuccess(o.URL)
		return
	}
	s.RecordFailure(o.URL, o.Reason)
}

// Finish stamps the end time. It is never earlier than the start time.
func (s *Summary) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.end = s.now()
	if s.end.Before(s.start) {
		s.end = s.start
	}
}

func (s *Summary) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		StartTime: s.start,
		EndTime:   s.end,
		Total:     s.total,
		Succeeded: len(s.successes),
		Failed:    len(s.failures),
		Successes: append([]string(nil), s.successes...),
		Failures:  append([]models.Failure(nil), s.failures...),
	}
	if !s.end.IsZero() {
		snap.Duration = s.end.Sub(s.start)
	}
	return snap
}

// Report renders the human-readable run report.
func (s *Summary) Report() string {
	return s.Snapshot().Report()
}

func (snap Snapshot) Report() string {
	var b strings.Builder

	b.WriteString("=== Scraping Summary ===\n\n")

	if !snap.StartTime.IsZero() && !snap.EndTime.IsZero() {
		fmt.Fprintf(&b, "Start Time: %s\n", snap.StartTime.Format(timeLayout))
		fmt.Fprintf(&b, "End Time: %s\n", snap.EndTime.Format(timeLayout))

		minutes := int(snap.Duration / time.Minute)
		seconds := int((snap.Duration % time.Minute) / time.Second)
		fmt.Fprintf(&b, "Duration: %d minutes %d seconds\n\n", minutes, seconds)

		avg := 0.0
		if snap.Total > 0 {
			avg = snap.Duration.Seconds() / float64(snap.Total)
		}
		fmt.Fprintf(&b, "Average time per product: %.2f seconds\n", avg)
	}

	fmt.Fprintf(&b, "Total Products: %d\n", snap.Total)
	fmt.Fprintf(&b, "Successfully Scraped: %d\n", snap.Succeeded)
	fmt.Fprintf(&b, "Failed: %d\n\n", snap.Failed)

	if len(snap.Successes) > 0 {
		b.WriteString("=== Successful Products ===\n")
		for _, url := range snap.Successes {
			fmt.Fprintf(&b, "- %s\n", url)
		}
		b.WriteString("\n")
	}

	if len(snap.Failures) > 0 {
		b.WriteString("=== Failed Products ===\n")
		for _, f := range snap.Failures {
			fmt.Fprintf(&b, "- %s - %s\n", f.URL, f.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}
