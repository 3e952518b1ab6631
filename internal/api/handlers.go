package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/closet-scraper/internal/config"
	"github.com/maltedev/closet-scraper/internal/database"
	"github.com/maltedev/closet-scraper/internal/jobs"
	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/queue"
)

// RunService is the run manager as seen by the API.
type RunService interface {
	Submit(req jobs.Request, priority int) (*jobs.Run, error)
	Get(id string) (*jobs.Run, error)
	List() []*jobs.Run
	Cancel(id string) error
	Report(id string) (*jobs.Report, error)
}

type ListingReader interface {
	GetListing(ctx context.Context, productID string) (*models.Product, error)
}

type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

type Handlers struct {
	runs     RunService
	listings ListingReader
	outbox   OutboxStats
	logger   *slog.Logger
}

// NewHandlers wires the handlers. listings and outbox may be nil when no
// database is configured.
func NewHandlers(runs RunService, listings ListingReader, outbox OutboxStats, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		runs:     runs,
		listings: listings,
		outbox:   outbox,
		logger:   logger.With("component", "api"),
	}
}

// CreateRunRequest asks for a discovery plus scrape run. A missing
// target_count uses the configured default and 0 collects every listing.
type CreateRunRequest struct {
	ListingURL  string `json:"listing_url"`
	TargetCount *int   `json:"target_count,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Fetch       string `json:"fetch,omitempty"`
	Format      string `json:"format,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

func (req CreateRunRequest) validate() string {
	switch {
	case req.ListingURL == "":
		return "listing_url is required"
	case req.TargetCount != nil && *req.TargetCount < 0:
		return "target_count must not be negative"
	case req.Mode != "" && !slices.Contains([]string{config.ModeSequential, config.ModeParallel}, req.Mode):
		return "mode must be sequential or parallel"
	case req.Fetch != "" && !slices.Contains([]string{config.FetchHTTP, config.FetchBrowser}, req.Fetch):
		return "fetch must be http or browser"
	case req.Format != "" && !slices.Contains([]string{config.FormatJSON, config.FormatCSV, config.FormatPostgres}, req.Format):
		return "format must be json, csv or postgres"
	}
	return ""
}

func (req CreateRunRequest) target() int {
	switch {
	case req.TargetCount == nil:
		return 0
	case *req.TargetCount == 0:
		return jobs.Unbounded
	default:
		return *req.TargetCount
	}
}

// CreateRun handles run submission
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		h.respondError(w, http.StatusBadRequest, msg)
		return
	}

	run, err := h.runs.Submit(jobs.Request{
		ListingURL:  req.ListingURL,
		TargetCount: req.target(),
		Mode:        req.Mode,
		Fetch:       req.Fetch,
		Format:      req.Format,
	}, req.Priority)
	if errors.Is(err, queue.ErrQueueFull) {
		h.respondError(w, http.StatusServiceUnavailable, "run queue is full")
		return
	}
	if err != nil {
		h.logger.Error("failed to submit run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	h.respondJSON(w, http.StatusAccepted, run)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.runs.List())
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, run)
}

// CancelRun stops a pending or running run
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := h.runs.Cancel(runID); err != nil {
		h.respondRunError(w, err)
		return
	}

	run, err := h.runs.Get(runID)
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, run)
}

// GetReport returns the products and summary of a finished run
func (h *Handlers) GetReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Report(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondRunError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handlers) GetListing(w http.ResponseWriter, r *http.Request) {
	if h.listings == nil {
		h.respondError(w, http.StatusNotImplemented, "listings require a database")
		return
	}

	product, err := h.listings.GetListing(r.Context(), chi.URLParam(r, "productID"))
	if errors.Is(err, database.ErrListingNotFound) {
		h.respondError(w, http.StatusNotFound, "listing not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get listing", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get listing")
		return
	}
	h.respondJSON(w, http.StatusOK, product)
}

// Health reports ok, or warning when the outbox backs up
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox stats", "error", err)
			health["status"] = "degraded"
			health["message"] = "outbox unavailable"
		} else {
			health["outbox"] = stats
			if stats.Pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "warning"
				health["message"] = "High number of dead letter events"
			}
		}
	}

	h.respondJSON(w, http.StatusOK, health)
}

func (h *Handlers) respondRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrRunNotFound):
		h.respondError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, jobs.ErrRunFinished):
		h.respondError(w, http.StatusConflict, "run already finished")
	case errors.Is(err, jobs.ErrNoReport):
		h.respondError(w, http.StatusConflict, "run has no report yet")
	default:
		h.logger.Error("run request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
