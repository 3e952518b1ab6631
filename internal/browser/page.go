package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/closet-scraper/internal/identity"
	"github.com/playwright-community/playwright-go"
)

type playwrightPage struct {
	page       playwright.Page
	context    playwright.BrowserContext
	id         identity.Identity
	navTimeout time.Duration
}

func (p *playwrightPage) Navigate(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timeout := p.navTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout == 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}

	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return 0, fmt.Errorf("navigation to %s timed out: %w", url, context.DeadlineExceeded)
		}
		return 0, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp == nil {
		return 0, nil
	}
	return resp.Status(), nil
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("selector %q did not appear within %s: %w", selector, timeout, err)
	}
	return nil
}

func (p *playwrightPage) QueryAll(selector string) ([]Element, error) {
	handles, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	elements := make([]Element, len(handles))
	for i, h := range handles {
		elements[i] = &playwrightElement{handle: h}
	}
	return elements, nil
}

func (p *playwrightPage) ScrollToBottom() error {
	if _, err := p.page.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		return fmt.Errorf("failed to scroll to bottom: %w", err)
	}
	return nil
}

func (p *playwrightPage) ScrollBy(px int) error {
	if _, err := p.page.Evaluate(`px => window.scrollBy(0, px)`, px); err != nil {
		return fmt.Errorf("failed to scroll by %d: %w", px, err)
	}
	return nil
}

func (p *playwrightPage) Content() (string, error) {
	html, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *playwrightPage) Identity() identity.Identity {
	return p.id
}

// Close closes the page and its browser context.
func (p *playwrightPage) Close() error {
	var errs []error
	if err := p.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close page: %w", err))
	}
	if err := p.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close context: %w", err))
	}
	return errors.Join(errs...)
}

type playwrightElement struct {
	handle playwright.ElementHandle
}

func (e *playwrightElement) ChildAttribute(selector, name string) (string, error) {
	child, err := e.handle.QuerySelector(selector)
	if err != nil {
		return "", fmt.Errorf("failed to query %q: %w", selector, err)
	}
	if child == nil {
		return "", fmt.Errorf("no element matches %q", selector)
	}

	value, err := child.GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("failed to read attribute %q: %w", name, err)
	}
	if value == "" {
		return "", fmt.Errorf("attribute %q is empty", name)
	}
	return value, nil
}
