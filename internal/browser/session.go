// Package browser owns the automated browser sessions used for publication
// attempts. Each attempt gets one isolated headless session; the page-level
// primitives all carry explicit timeouts so nothing blocks indefinitely.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrTimeout marks a wait that exceeded its bound. Callers use it to tell
// "platform slow" apart from "platform changed".
var ErrTimeout = errors.New("wait timed out")

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Session is one live page in an isolated browser context. Close must run on
// every exit path regardless of how far the caller got.
type Session interface {
	NavigateAndWait(url string, timeout time.Duration) error
	// WaitForAny waits until any of the candidate selectors matches and
	// returns the first candidate (in list order) that has a match.
	WaitForAny(selectors []string, timeout time.Duration) (string, error)
	Count(selector string) (int, error)
	Fill(selector, value string) error
	AttachFile(selector, path string) error
	Click(selector string, timeout time.Duration) error
	WaitForNetworkIdle(timeout time.Duration) error
	URL() string
	Close() error
}

// Launcher produces one configured session per publication attempt.
type Launcher interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// SessionOptions carries per-attempt settings.
type SessionOptions struct {
	Proxy *string // optional egress proxy, e.g. "http://host:port"
}

// Config controls browser launch behavior shared by all sessions.
type Config struct {
	Headless  bool
	UserAgent string
}

// Driver launches Chromium sessions via the playwright runtime. One driver
// serves the whole process; sessions are per attempt.
type Driver struct {
	pw        *playwright.Playwright
	headless  bool
	userAgent string
}

// NewDriver starts the playwright runtime.
func NewDriver(cfg Config) (*Driver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &Driver{pw: pw, headless: cfg.Headless, userAgent: ua}, nil
}

// Close stops the playwright runtime.
func (d *Driver) Close() error {
	return d.pw.Stop()
}

// NewSession launches an isolated Chromium instance with the fixed viewport,
// user-agent and automation-detection countermeasures, optionally routed
// through a proxy.
func (d *Driver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.headless),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
		},
	}
	if opts.Proxy != nil && *opts.Proxy != "" {
		launch.Proxy = &playwright.Proxy{Server: *opts.Proxy}
	}

	b, err := d.pw.Chromium.Launch(launch)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport:  &playwright.Size{Width: 1920, Height: 1080},
		UserAgent: playwright.String(d.userAgent),
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("new browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	return &session{browser: b, page: page}, nil
}

type session struct {
	browser playwright.Browser
	page    playwright.Page
}

func (s *session) NavigateAndWait(url string, timeout time.Duration) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(ms(timeout)),
	})
	return wrapTimeout(err)
}

func (s *session) WaitForAny(selectors []string, timeout time.Duration) (string, error) {
	combined := strings.Join(selectors, ", ")
	_, err := s.page.WaitForSelector(combined, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return "", wrapTimeout(err)
	}
	for _, sel := range selectors {
		n, err := s.Count(sel)
		if err != nil {
			return "", err
		}
		if n > 0 {
			return sel, nil
		}
	}
	// The combined wait matched but no single candidate does now; treat as
	// the page having changed underneath us.
	return "", fmt.Errorf("no candidate selector matches after wait: %s", combined)
}

func (s *session) Count(selector string) (int, error) {
	return s.page.Locator(selector).Count()
}

func (s *session) Fill(selector, value string) error {
	return wrapTimeout(s.page.Locator(selector).First().Fill(value))
}

func (s *session) AttachFile(selector, path string) error {
	return wrapTimeout(s.page.Locator(selector).First().SetInputFiles(path))
}

func (s *session) Click(selector string, timeout time.Duration) error {
	return wrapTimeout(s.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (s *session) WaitForNetworkIdle(timeout time.Duration) error {
	return wrapTimeout(s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(ms(timeout)),
	}))
}

func (s *session) URL() string {
	return s.page.URL()
}

// Close tears down the whole browser instance; the context and page go with it.
func (s *session) Close() error {
	return s.browser.Close()
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

func wrapTimeout(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
