// Package storage checkpoints discovered listing URLs to a JSON file so
// discovery and scraping can run as separate, resumable steps.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/maltedev/closet-scraper/internal/models"
	"github.com/maltedev/closet-scraper/internal/parser"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrLinkNotFound = errors.New("link not found")

type ListingLink struct {
	URL       string    `json:"url"`
	ProductID string    `json:"product_id"`
	SourceURL string    `json:"source_url,omitempty"`
	Status    string    `json:"status"`
	Seq       int       `json:"seq"`
	AddedAt   time.Time `json:"added_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// LinkStorage is a file-backed set of listing links keyed by URL. Every
// mutation is flushed to disk.
type LinkStorage struct {
	mu       sync.RWMutex
	links    map[string]*ListingLink
	filename string
	nextSeq  int
}

func NewLinkStorage(filename string) (*LinkStorage, error) {
	ls := &LinkStorage{
		links:    make(map[string]*ListingLink),
		filename: filename,
	}

	if err := ls.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return ls, nil
}

// AddBatch stores urls as pending, skipping ones already known. It returns
// how many were new.
func (ls *LinkStorage) AddBatch(urls []string, sourceURL string) (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	now := time.Now()
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, exists := ls.links[u]; exists {
			continue
		}
		ls.links[u] = &ListingLink{
			URL:       u,
			ProductID: parser.ProductID(u),
			SourceURL: sourceURL,
			Status:    StatusPending,
			Seq:       ls.nextSeq,
			AddedAt:   now,
			UpdatedAt: now,
		}
		ls.nextSeq++
		added++
	}

	if added == 0 {
		return 0, nil
	}
	return added, ls.save()
}

func (ls *LinkStorage) Get(url string) (*ListingLink, bool) {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	link, exists := ls.links[url]
	if !exists {
		return nil, false
	}
	cp := *link
	return &cp, true
}

// Pending returns the URLs still to scrape in discovery order, at most
// limit of them when limit > 0.
func (ls *LinkStorage) Pending(limit int) []string {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	var pending []*ListingLink
	for _, link := range ls.links {
		if link.Status == StatusPending {
			pending = append(pending, link)
		}
	}
	slices.SortFunc(pending, func(a, b *ListingLink) int { return a.Seq - b.Seq })

	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	urls := make([]string, len(pending))
	for i, link := range pending {
		urls[i] = link.URL
	}
	return urls
}

func (ls *LinkStorage) UpdateStatus(url, status, errorMsg string) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if err := ls.setStatus(url, status, errorMsg); err != nil {
		return err
	}
	return ls.save()
}

// MarkResults applies a run's outcomes in one write. Unknown URLs are
// ignored.
func (ls *LinkStorage) MarkResults(successes []string, failures []models.Failure) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for _, u := range successes {
		_ = ls.setStatus(u, StatusCompleted, "")
	}
	for _, f := range failures {
		_ = ls.setStatus(f.URL, StatusFailed, f.Reason)
	}
	return ls.save()
}

// ResetFailed puts failed links back to pending and returns how many.
func (ls *LinkStorage) ResetFailed() (int, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	n := 0
	for url, link := range ls.links {
		if link.Status == StatusFailed {
			_ = ls.setStatus(url, StatusPending, "")
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, ls.save()
}

func (ls *LinkStorage) GetStats() map[string]int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()

	stats := make(map[string]int)
	for _, link := range ls.links {
		stats[link.Status]++
	}
	stats["total"] = len(ls.links)
	return stats
}

func (ls *LinkStorage) setStatus(url, status, errorMsg string) error {
	link, exists := ls.links[url]
	if !exists {
		return fmt.Errorf("%w: %s", ErrLinkNotFound, url)
	}
	link.Status = status
	link.UpdatedAt = time.Now()
	link.Error = errorMsg
	return nil
}

func (ls *LinkStorage) save() error {
	data, err := json.MarshalIndent(ls.links, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode links: %w", err)
	}

	if dir := filepath.Dir(ls.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage dir: %w", err)
		}
	}

	tmpFile := ls.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write links: %w", err)
	}

	return os.Rename(tmpFile, ls.filename)
}

// Load replaces the in-memory set with the file contents.
func (ls *LinkStorage) Load() error {
	data, err := os.ReadFile(ls.filename)
	if err != nil {
		return err
	}

	links := make(map[string]*ListingLink)
	if err := json.Unmarshal(data, &links); err != nil {
		return fmt.Errorf("failed to decode %s: %w", ls.filename, err)
	}

	ls.links = links
	ls.nextSeq = 0
	for _, link := range links {
		ls.nextSeq = max(ls.nextSeq, link.Seq+1)
	}
	return nil
}
