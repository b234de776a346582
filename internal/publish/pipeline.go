// Package publish drives one publication attempt through the target
// platform's web UI: login, upload, metadata fill, processing wait, submit.
// Stages run strictly in order; the first failure aborts the attempt with a
// typed error naming the stage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"video-autoposter/internal/browser"
	"video-autoposter/internal/models"
)

// Candidate selectors per logical field, tried in order, first match wins.
// The platform's DOM is not under our control; keep fallbacks cheap.
var (
	emailSelectors       = []string{`input[name="email"]`, `input[type="email"]`}
	passwordSelectors    = []string{`input[name="password"]`, `input[type="password"]`}
	fileInputSelectors   = []string{`input[type="file"]`}
	titleSelectors       = []string{`input[name="title"]`, `input[placeholder*="title" i]`}
	descriptionSelectors = []string{`textarea[name="description"]`, `textarea[placeholder*="description" i]`}
	submitSelectors      = []string{`button[type="submit"]`, `button:has-text("Publish")`, `button:has-text("Post")`}
)

// BlobFetcher materializes a video locator as a local file with a scoped
// cleanup func.
type BlobFetcher interface {
	Fetch(ctx context.Context, locator string) (string, func(), error)
}

// Config holds platform URLs, wait bounds and settling intervals.
type Config struct {
	LoginURL  string
	UploadURL string

	NavigationTimeout  time.Duration
	SelectorTimeout    time.Duration
	NetworkIdleTimeout time.Duration
	ConfirmTimeout     time.Duration // submit confirmation can be slow

	// Settling intervals compensate for the platform exposing no progress
	// signals; there is nothing to poll, so these are blind waits.
	PageSettle     time.Duration
	LoginSettle    time.Duration
	UploadSettle   time.Duration
	ProcessingWait time.Duration
	ConfirmSettle  time.Duration
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	def(&c.NavigationTimeout, 30*time.Second)
	def(&c.SelectorTimeout, 10*time.Second)
	def(&c.NetworkIdleTimeout, 30*time.Second)
	def(&c.ConfirmTimeout, 60*time.Second)
	def(&c.PageSettle, 2*time.Second)
	def(&c.LoginSettle, 3*time.Second)
	def(&c.UploadSettle, 5*time.Second)
	def(&c.ProcessingWait, 10*time.Second)
	def(&c.ConfirmSettle, 5*time.Second)
	return c
}

// Pipeline owns one publication attempt end to end: fetch the video, open an
// isolated session, run the stages. Both the temp file and the session are
// released on every exit path.
type Pipeline struct {
	fetcher  BlobFetcher
	sessions browser.Launcher
	cfg      Config
	logger   *slog.Logger
}

func New(fetcher BlobFetcher, sessions browser.Launcher, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		sessions: sessions,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Publish runs the full login→upload→fill→submit sequence for one post.
func (p *Pipeline) Publish(ctx context.Context, post models.Post, account models.Account) error {
	videoPath, cleanup, err := p.fetcher.Fetch(ctx, post.VideoURL)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := p.sessions.NewSession(ctx, browser.SessionOptions{Proxy: account.Proxy})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	if err := p.login(ctx, sess, account); err != nil {
		return err
	}
	p.logger.Info("logged in", "post_id", post.ID, "account", account.Email)

	if err := p.upload(ctx, sess, videoPath); err != nil {
		return err
	}
	if err := p.fillMetadata(sess, post.Title, post.Description); err != nil {
		return err
	}
	// Server-side video processing has to reach a submittable state first.
	if err := settle(ctx, p.cfg.ProcessingWait); err != nil {
		return err
	}
	if err := p.submit(ctx, sess); err != nil {
		return err
	}
	p.logger.Info("video published", "post_id", post.ID)
	return nil
}

func (p *Pipeline) login(ctx context.Context, sess browser.Session, account models.Account) error {
	if err := sess.NavigateAndWait(p.cfg.LoginURL, p.cfg.NavigationTimeout); err != nil {
		return &LoginError{Err: fmt.Errorf("open login page: %w", err)}
	}
	if err := settle(ctx, p.cfg.PageSettle); err != nil {
		return err
	}

	emailSel, err := sess.WaitForAny(emailSelectors, p.cfg.SelectorTimeout)
	if err != nil {
		return &LoginError{Err: fmt.Errorf("wait for email input: %w", err)}
	}
	if err := sess.Fill(emailSel, account.Email); err != nil {
		return &LoginError{Err: fmt.Errorf("fill %s: %w", emailSel, err)}
	}
	filled, err := fillFirst(sess, passwordSelectors, account.Password)
	if err != nil {
		return &LoginError{Err: err}
	}
	if !filled {
		return &LoginError{Err: errors.New("no password input found")}
	}

	if err := sess.Click(`button[type="submit"]`, p.cfg.SelectorTimeout); err != nil {
		return &LoginError{Err: fmt.Errorf("submit login form: %w", err)}
	}
	if err := sess.WaitForNetworkIdle(p.cfg.NetworkIdleTimeout); err != nil {
		return &LoginError{Err: fmt.Errorf("wait after login: %w", err)}
	}
	if err := settle(ctx, p.cfg.LoginSettle); err != nil {
		return err
	}

	// The resulting URL is the authoritative success signal; the submit
	// request itself succeeds even on rejected credentials.
	if strings.Contains(strings.ToLower(sess.URL()), "login") {
		return &LoginError{Err: errors.New("still on login page after submit")}
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context, sess browser.Session, videoPath string) error {
	if err := sess.NavigateAndWait(p.cfg.UploadURL, p.cfg.NavigationTimeout); err != nil {
		return &UploadError{Err: fmt.Errorf("open upload page: %w", err)}
	}
	if err := settle(ctx, p.cfg.PageSettle); err != nil {
		return err
	}

	fileSel, err := sess.WaitForAny(fileInputSelectors, p.cfg.SelectorTimeout)
	if err != nil {
		return &UploadError{Err: fmt.Errorf("wait for file input: %w", err)}
	}
	if err := sess.AttachFile(fileSel, videoPath); err != nil {
		return &UploadError{Err: fmt.Errorf("attach file to %s: %w", fileSel, err)}
	}
	// No upload-progress signal exists; give client-side processing a head
	// start before touching the form.
	return settle(ctx, p.cfg.UploadSettle)
}

// fillMetadata fills title and description when their inputs exist. A zero
// match count is not a failure; the platform may auto-title.
func (p *Pipeline) fillMetadata(sess browser.Session, title, description string) error {
	filled, err := fillFirst(sess, titleSelectors, title)
	if err != nil {
		return &FillError{Err: err}
	}
	if !filled {
		p.logger.Debug("no title input found, skipping")
	}
	filled, err = fillFirst(sess, descriptionSelectors, description)
	if err != nil {
		return &FillError{Err: err}
	}
	if !filled {
		p.logger.Debug("no description input found, skipping")
	}
	return nil
}

func (p *Pipeline) submit(ctx context.Context, sess browser.Session) error {
	sel, err := firstMatch(sess, submitSelectors)
	if err != nil {
		return &SubmitError{Err: err}
	}
	if sel == "" {
		return &SubmitError{Err: errors.New("no submit control found")}
	}
	if err := sess.Click(sel, p.cfg.SelectorTimeout); err != nil {
		return &SubmitError{Err: fmt.Errorf("click %s: %w", sel, err)}
	}
	if err := sess.WaitForNetworkIdle(p.cfg.ConfirmTimeout); err != nil {
		return &SubmitError{Err: fmt.Errorf("wait for confirmation: %w", err)}
	}
	return settle(ctx, p.cfg.ConfirmSettle)
}

// firstMatch returns the first candidate selector with a nonzero match
// count, or "" when none match.
func firstMatch(sess browser.Session, candidates []string) (string, error) {
	for _, sel := range candidates {
		n, err := sess.Count(sel)
		if err != nil {
			return "", fmt.Errorf("count %s: %w", sel, err)
		}
		if n > 0 {
			return sel, nil
		}
	}
	return "", nil
}

// fillFirst fills the first matching candidate and reports whether any
// candidate matched at all.
func fillFirst(sess browser.Session, candidates []string, value string) (bool, error) {
	sel, err := firstMatch(sess, candidates)
	if err != nil {
		return false, err
	}
	if sel == "" {
		return false, nil
	}
	if err := sess.Fill(sel, value); err != nil {
		return false, fmt.Errorf("fill %s: %w", sel, err)
	}
	return true, nil
}

// settle is a fixed wait that still honors cancellation.
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
