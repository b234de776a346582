// Package lifecycle owns the post state machine: pending → processing →
// {published | failed}, plus the operator retry transition back to pending.
// Posts are mutated only here (intake aside); the claim is an atomic
// conditional update so overlapping scheduler runs cannot share a post.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"video-autoposter/internal/models"
	"video-autoposter/internal/store"
	"video-autoposter/internal/telemetry"
)

// ErrAlreadyPublished is returned when an operator retries a published post.
var ErrAlreadyPublished = errors.New("post already published")

const (
	defaultPlatform  = "xfree"
	defaultBatchSize = 10
	defaultListLimit = 50
)

// ValidationError reports a missing intake field.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Deps collects the manager's collaborators. Publisher, Limiter and Events
// may be nil: an API-only process never runs batches, throttling and event
// emission are optional features.
type Deps struct {
	Posts     PostStore
	Accounts  AccountStore
	Publisher Publisher
	Limiter   AttemptLimiter
	Events    EventSink
	BatchSize int
	Logger    *slog.Logger
}

// Manager drives the post lifecycle.
type Manager struct {
	posts     PostStore
	accounts  AccountStore
	publisher Publisher
	limiter   AttemptLimiter
	events    EventSink
	batchSize int
	logger    *slog.Logger
}

func NewManager(d Deps) *Manager {
	if d.BatchSize <= 0 {
		d.BatchSize = defaultBatchSize
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Manager{
		posts:     d.Posts,
		accounts:  d.Accounts,
		publisher: d.Publisher,
		limiter:   d.Limiter,
		events:    d.Events,
		batchSize: d.BatchSize,
		logger:    d.Logger,
	}
}

// CreateParams is the intake payload for a new post.
type CreateParams struct {
	AccountID     string
	Title         string
	Description   string
	VideoURL      string
	Platform      string
	ScheduledTime time.Time
}

// CreatePost validates the intake fields and inserts a pending post.
func (m *Manager) CreatePost(ctx context.Context, p CreateParams) (models.Post, error) {
	switch {
	case p.AccountID == "":
		return models.Post{}, &ValidationError{Field: "account_id"}
	case p.Title == "":
		return models.Post{}, &ValidationError{Field: "title"}
	case p.Description == "":
		return models.Post{}, &ValidationError{Field: "description"}
	case p.VideoURL == "":
		return models.Post{}, &ValidationError{Field: "video_url"}
	case p.ScheduledTime.IsZero():
		return models.Post{}, &ValidationError{Field: "scheduled_time"}
	}
	if p.Platform == "" {
		p.Platform = defaultPlatform
	}

	post, err := m.posts.CreatePost(ctx, store.CreatePostParams{
		AccountID:     p.AccountID,
		Title:         p.Title,
		Description:   p.Description,
		VideoURL:      p.VideoURL,
		Platform:      p.Platform,
		ScheduledTime: p.ScheduledTime,
	})
	if err != nil {
		return models.Post{}, err
	}
	m.logger.Info("post created", "post_id", post.ID, "scheduled_time", post.ScheduledTime)
	return post, nil
}

// GetPost fetches one post by id.
func (m *Manager) GetPost(ctx context.Context, id string) (models.Post, error) {
	return m.posts.GetPost(ctx, id)
}

// ListPosts returns posts newest-first, optionally filtered by status.
func (m *Manager) ListPosts(ctx context.Context, status string, limit int) ([]models.Post, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return m.posts.ListPosts(ctx, status, limit)
}

// RetryPost resets a failed (or stuck-processing) post to pending with an
// immediate scheduled time so the next scheduler tick picks it up.
func (m *Manager) RetryPost(ctx context.Context, id string) error {
	post, err := m.posts.GetPost(ctx, id)
	if err != nil {
		return err
	}
	switch post.Status {
	case models.StatusPublished:
		return ErrAlreadyPublished
	case models.StatusPending:
		// Already eligible; nothing to reset.
		return nil
	}

	reset, err := m.posts.ResetForRetry(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if reset {
		m.logger.Info("post reset for retry", "post_id", id)
	}
	return nil
}

// RunDueBatch claims and publishes up to one batch of due posts. One post's
// failure never aborts the rest of the batch. It returns how many posts were
// claimed and driven to a terminal state.
func (m *Manager) RunDueBatch(ctx context.Context, now time.Time) (int, error) {
	if m.publisher == nil {
		return 0, errors.New("lifecycle: no publisher configured")
	}

	due, err := m.posts.DuePosts(ctx, now, m.batchSize)
	if err != nil {
		return 0, fmt.Errorf("query due posts: %w", err)
	}

	processed := 0
	for i := range due {
		post := due[i]
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		if !m.allowAttempt(ctx, post.AccountID) {
			// Stays pending; a later tick retries it.
			m.logger.Warn("publish attempt throttled", "post_id", post.ID, "account_id", post.AccountID)
			telemetry.RateLimitSkips.Inc()
			continue
		}

		claimed, err := m.posts.ClaimPost(ctx, post.ID, time.Now().UTC())
		if err != nil {
			m.logger.Error("claim failed", "post_id", post.ID, "error", err)
			continue
		}
		if !claimed {
			// Another run owns this post.
			continue
		}

		m.resolve(ctx, post)
		processed++
	}
	return processed, nil
}

// allowAttempt consults the optional per-account limiter. Limiter errors
// fail open: a broken limiter must not stall publication.
func (m *Manager) allowAttempt(ctx context.Context, accountID string) bool {
	if m.limiter == nil {
		return true
	}
	allowed, _, err := m.limiter.Allow(ctx, "publish:"+accountID)
	if err != nil {
		m.logger.Warn("rate limiter unavailable", "account_id", accountID, "error", err)
		return true
	}
	return allowed
}

// resolve runs one publication attempt for a claimed post and persists the
// terminal outcome. Any attempt error becomes a stored failed state; nothing
// propagates out of the batch loop.
func (m *Manager) resolve(ctx context.Context, post models.Post) {
	start := time.Now()
	err := m.attempt(ctx, post)
	telemetry.PublishDuration.Observe(time.Since(start).Seconds())

	now := time.Now().UTC()
	if err != nil {
		cause := err.Error()
		if storeErr := m.posts.MarkFailed(ctx, post.ID, cause, now); storeErr != nil {
			m.logger.Error("persist failed state", "post_id", post.ID, "error", storeErr)
		}
		telemetry.PostsFailed.Inc()
		m.emit(ctx, post, models.StatusFailed, &cause, now)
		m.logger.Error("publication failed", "post_id", post.ID, "error", err)
		return
	}

	if storeErr := m.posts.MarkPublished(ctx, post.ID, now); storeErr != nil {
		m.logger.Error("persist published state", "post_id", post.ID, "error", storeErr)
	}
	telemetry.PostsPublished.Inc()
	m.emit(ctx, post, models.StatusPublished, nil, now)
	m.logger.Info("post published", "post_id", post.ID)
}

func (m *Manager) attempt(ctx context.Context, post models.Post) error {
	account, err := m.accounts.GetAccount(ctx, post.AccountID)
	if err != nil {
		return fmt.Errorf("resolve account: %w", err)
	}
	return m.publisher.Publish(ctx, post, account)
}

func (m *Manager) emit(ctx context.Context, post models.Post, status string, cause *string, at time.Time) {
	if m.events == nil {
		return
	}
	evt := PostEvent{
		PostID:     post.ID,
		AccountID:  post.AccountID,
		Platform:   post.Platform,
		Status:     status,
		Error:      cause,
		OccurredAt: at,
	}
	if err := m.events.PublishEvent(ctx, evt); err != nil {
		m.logger.Warn("event emit failed", "post_id", post.ID, "error", err)
	}
}
