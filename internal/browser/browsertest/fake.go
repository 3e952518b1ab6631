// Package browsertest provides in-memory pages for tests of code that drives
// a browser.
package browsertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/maltedev/closet-scraper/internal/browser"
	"github.com/maltedev/closet-scraper/internal/identity"
)

// Element returns Value for any attribute lookup, or Err when set.
type Element struct {
	Value string
	Err   error
}

func (e *Element) ChildAttribute(selector, name string) (string, error) {
	if e.Err != nil {
		return "", e.Err
	}
	if e.Value == "" {
		return "", errors.New("attribute is empty")
	}
	return e.Value, nil
}

// Links builds elements for the given hrefs.
func Links(hrefs ...string) []browser.Element {
	out := make([]browser.Element, len(hrefs))
	for i, h := range hrefs {
		out[i] = &Element{Value: h}
	}
	return out
}

// Page simulates an infinitely scrolling listing and a set of detail pages.
// Initially Initial elements are visible; each ScrollToBottom reveals
// PerScroll more.
type Page struct {
	Elements  []browser.Element
	Initial   int
	PerScroll int

	WaitErr     error
	HTML        map[string]string
	Status      map[string]int
	NavigateErr map[string]error
	ID          identity.Identity

	mu         sync.Mutex
	visible    int
	started    bool
	current    string
	navigated  []string
	scrolls    int
	scrolledBy []int
	closed     bool
}

func (p *Page) Navigate(ctx context.Context, url string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.navigated = append(p.navigated, url)
	if err := p.NavigateErr[url]; err != nil {
		return 0, err
	}
	p.current = url
	if status, ok := p.Status[url]; ok {
		return status, nil
	}
	return 200, nil
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	return p.WaitErr
}

func (p *Page) QueryAll(selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		p.visible = min(p.Initial, len(p.Elements))
		p.started = true
	}
	return append([]browser.Element(nil), p.Elements[:p.visible]...), nil
}

func (p *Page) ScrollToBottom() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scrolls++
	p.visible = min(p.visible+p.PerScroll, len(p.Elements))
	return nil
}

func (p *Page) ScrollBy(px int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scrolledBy = append(p.scrolledBy, px)
	return nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	html, ok := p.HTML[p.current]
	if !ok {
		return "<html><body></body></html>", nil
	}
	return html, nil
}

func (p *Page) Identity() identity.Identity {
	return p.ID
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return nil
}

func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

func (p *Page) ScrolledBy() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.scrolledBy...)
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Source hands out pages built by New, numbered from zero.
type Source struct {
	New func(n int) *Page
	Err error

	mu     sync.Mutex
	opened []*Page
}

func (s *Source) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := s.New(len(s.opened))
	s.opened = append(s.opened, page)
	return page, nil
}

func (s *Source) Opened() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Page(nil), s.opened...)
}
