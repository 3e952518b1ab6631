package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/closet-scraper/internal/identity"
	"github.com/playwright-community/playwright-go"
)

var ErrClosed = errors.New("browser is closed")

// Element is a node on a rendered page.
type Element interface {
	// ChildAttribute returns attribute name of the first descendant matching
	// selector.
	ChildAttribute(selector, name string) (string, error)
}

// Page is a live, JavaScript-rendered page.
type Page interface {
	// Navigate loads url, waiting for DOMContentLoaded, and returns the HTTP
	// status of the main document (0 when unknown).
	Navigate(ctx context.Context, url string) (int, error)
	WaitForSelector(selector string, timeout time.Duration) error
	QueryAll(selector string) ([]Element, error)
	ScrollToBottom() error
	ScrollBy(px int) error
	Content() (string, error)
	Identity() identity.Identity
	Close() error
}

// PageSource opens pages, each in a fresh session.
type PageSource interface {
	NewPage(ctx context.Context) (Page, error)
}

// Browser owns the playwright driver and one Chromium process. Every page
// gets its own browser context carrying the next identity from the
// provider, so closing a page ends its session.
type Browser struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	identities identity.Provider
	opts       *Options
	logger     *slog.Logger
}

type Options struct {
	Headless                 bool
	SlowMo                   time.Duration
	ProxyServer              string
	ContextNavigationTimeout time.Duration
	ContextTimeout           time.Duration
	NavigationTimeout        time.Duration
	Timeout                  time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		Headless:                 true,
		SlowMo:                   200 * time.Millisecond,
		ContextNavigationTimeout: 60 * time.Second,
		ContextTimeout:           30 * time.Second,
		NavigationTimeout:        30 * time.Second,
		Timeout:                  10 * time.Second,
	}
}

func New(opts *Options, identities identity.Provider, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		SlowMo:   playwright.Float(float64(opts.SlowMo.Milliseconds())),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--window-size=1920,1080",
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:         pw,
		browser:    browser,
		identities: identities,
		opts:       opts,
		logger:     logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.browser == nil {
		return nil, ErrClosed
	}

	id := b.identities.Next()
	bctx, err := b.browser.NewContext(contextOptions(id))
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	bctx.SetDefaultNavigationTimeout(float64(b.opts.ContextNavigationTimeout.Milliseconds()))
	bctx.SetDefaultTimeout(float64(b.opts.ContextTimeout.Milliseconds()))

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultNavigationTimeout(float64(b.opts.NavigationTimeout.Milliseconds()))
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	b.logger.Debug("opened page",
		"user_agent", id.UserAgent,
		"viewport", fmt.Sprintf("%dx%d", id.ViewportWidth, id.ViewportHeight))

	return &playwrightPage{
		page:       page,
		context:    bctx,
		id:         id,
		navTimeout: b.opts.NavigationTimeout,
	}, nil
}

func contextOptions(id identity.Identity) playwright.BrowserNewContextOptions {
	headers := make(map[string]string, len(id.Headers)+1)
	for k, v := range id.Headers {
		headers[k] = v
	}
	if id.AcceptLanguage != "" {
		headers["Accept-Language"] = id.AcceptLanguage
	}

	opts := playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
		IsMobile:          playwright.Bool(false),
		HasTouch:          playwright.Bool(false),
		ExtraHttpHeaders:  headers,
	}
	if id.UserAgent != "" {
		opts.UserAgent = playwright.String(id.UserAgent)
	}
	if id.Locale != "" {
		opts.Locale = playwright.String(id.Locale)
	}
	if id.TimezoneID != "" {
		opts.TimezoneId = playwright.String(id.TimezoneID)
	}
	if id.ViewportWidth > 0 && id.ViewportHeight > 0 {
		opts.Viewport = &playwright.Size{
			Width:  id.ViewportWidth,
			Height: id.ViewportHeight,
		}
	}
	return opts
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
		b.browser = nil
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
		b.pw = nil
	}

	return errors.Join(errs...)
}
