package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/closet-scraper/internal/browser"
	"github.com/maltedev/closet-scraper/internal/identity"
)

// Source performs one attempt at loading a page.
type Source interface {
	Fetch(ctx context.Context, url string, id identity.Identity, timeout time.Duration) (*goquery.Document, error)
}

// HTTPSource loads static HTML over net/http.
type HTTPSource struct {
	client *http.Client
}

func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Fetch(ctx context.Context, url string, id identity.Identity, timeout time.Duration) (*goquery.Document, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range id.Headers {
		req.Header.Set(k, v)
	}
	if id.UserAgent != "" {
		req.Header.Set("User-Agent", id.UserAgent)
	}
	if id.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", id.AcceptLanguage)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(url, resp.StatusCode); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("failed to parse response body: %w", err))
	}
	return doc, nil
}

// BrowserSource renders each attempt in a fresh page. The page's session
// draws its identity from the browser's provider, so the id argument is
// ignored.
type BrowserSource struct {
	pages         browser.PageSource
	readySelector string
}

func NewBrowserSource(pages browser.PageSource, readySelector string) *BrowserSource {
	return &BrowserSource{pages: pages, readySelector: readySelector}
}

func (s *BrowserSource) Fetch(ctx context.Context, url string, _ identity.Identity, timeout time.Duration) (*goquery.Document, error) {
	page, err := s.pages.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := Navigate(ctx, page, url, timeout); err != nil {
		return nil, err
	}
	if err := WaitReady(page, s.readySelector, timeout); err != nil {
		return nil, err
	}
	return Document(page)
}

// Navigate loads url on page within timeout and classifies the outcome the
// same way HTTPSource does.
func Navigate(ctx context.Context, page browser.Page, url string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	status, err := page.Navigate(ctx, url)
	if err != nil {
		return classifyTransport(err)
	}
	return classifyStatus(url, status)
}

// WaitReady waits for the selector that marks a rendered detail page.
func WaitReady(page browser.Page, selector string, timeout time.Duration) error {
	if selector == "" {
		return nil
	}
	if err := page.WaitForSelector(selector, timeout); err != nil {
		return ErrTimeout{Err: err}
	}
	return nil
}

// Document parses the page's current DOM.
func Document(page browser.Page) (*goquery.Document, error) {
	html, err := page.Content()
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page content: %w", err)
	}
	return doc, nil
}
