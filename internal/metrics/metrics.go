package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for discovery and scraping. All
// methods are safe on a nil receiver.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	ItemsFailedTotal  prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	URLsDiscovered    prometheus.Counter
	SessionsTotal     prometheus.Counter
	RunsTotal         *prometheus.CounterVec
	InFlight          prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "closet_scraper_requests_total",
			Help: "Total page fetches issued, by phase.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "closet_scraper_request_duration_seconds",
			Help:    "Latency of detail page fetch attempts.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30},
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "closet_scraper_items_scraped_total",
			Help: "Listings extracted successfully.",
		},
	)
	itemsFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "closet_scraper_items_failed_total",
			Help: "Listings that could not be scraped.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "closet_scraper_retries_total",
			Help: "Fetch retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "closet_scraper_errors_total",
			Help: "Fetch errors by type.",
		},
		[]string{"error_type"},
	)
	discovered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "closet_scraper_urls_discovered_total",
			Help: "Unique listing URLs found during discovery.",
		},
	)
	sessions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "closet_scraper_sessions_total",
			Help: "Browser sessions opened for detail pages.",
		},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "closet_scraper_runs_total",
			Help: "Scrape runs by final state.",
		},
		[]string{"state"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "closet_scraper_items_in_flight",
			Help: "Listings currently being processed.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, itemsFailed, retries,
		errorsTotal, discovered, sessions, runs, inFlight)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ItemsFailedTotal:  itemsFailed,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		URLsDiscovered:    discovered,
		SessionsTotal:     sessions,
		RunsTotal:         runs,
		InFlight:          inFlight,
	}
}

// Handler exposes the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

func (m *Metrics) IncFailed() {
	if m == nil {
		return
	}
	m.ItemsFailedTotal.Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) AddDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.URLsDiscovered.Add(float64(n))
}

func (m *Metrics) IncSessions() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

func (m *Metrics) IncRun(state string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) TrackInFlight(delta int) {
	if m == nil {
		return
	}
	m.InFlight.Add(float64(delta))
}
