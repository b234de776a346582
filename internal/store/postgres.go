package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"video-autoposter/internal/models"
)

// ErrNotFound is returned when a referenced post or account does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const postColumns = `id, account_id, title, description, video_url, platform, status,
	scheduled_time, created_at, processing_started_at, published_at, failed_at, last_error`

// CreatePostParams collects inputs required to insert a post.
type CreatePostParams struct {
	AccountID     string
	Title         string
	Description   string
	VideoURL      string
	Platform      string
	ScheduledTime time.Time
}

// CreatePost inserts a pending post row and returns it.
func (s *Store) CreatePost(ctx context.Context, p CreatePostParams) (models.Post, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO posts (id, account_id, title, description, video_url, platform, status, scheduled_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, p.AccountID, p.Title, p.Description, p.VideoURL, p.Platform, models.StatusPending, p.ScheduledTime, now)
	if err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}

	return models.Post{
		ID:            id,
		AccountID:     p.AccountID,
		Title:         p.Title,
		Description:   p.Description,
		VideoURL:      p.VideoURL,
		Platform:      p.Platform,
		Status:        models.StatusPending,
		ScheduledTime: p.ScheduledTime,
		CreatedAt:     now,
	}, nil
}

// GetPost fetches a post by id.
func (s *Store) GetPost(ctx context.Context, id string) (models.Post, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Post{}, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return post, err
}

// ListPosts returns posts newest-first, optionally filtered by status.
func (s *Store) ListPosts(ctx context.Context, status string, limit int) ([]models.Post, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+postColumns+` FROM posts ORDER BY created_at DESC LIMIT $1
		`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+postColumns+` FROM posts WHERE status = $1 ORDER BY created_at DESC LIMIT $2
		`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// DuePosts returns up to limit posts that are pending and scheduled at or
// before now.
func (s *Store) DuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE status = $1 AND scheduled_time <= $2
		ORDER BY scheduled_time ASC
		LIMIT $3
	`, models.StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due posts: %w", err)
	}
	defer rows.Close()

	posts := make([]models.Post, 0, limit)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ClaimPost atomically transitions a pending post to processing and stamps
// processing_started_at. It reports whether this caller won the row; a
// concurrent claimer loses and sees false. This conditional single-row
// update is what keeps overlapping scheduler runs from double-publishing.
func (s *Store) ClaimPost(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET status = $2, processing_started_at = $3
		WHERE id = $1 AND status = $4
	`, id, models.StatusProcessing, now, models.StatusPending)
	if err != nil {
		return false, fmt.Errorf("claim post: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPublished resolves a processing post to published. The condition on
// the current status keeps published_at and failed_at mutually exclusive.
func (s *Store) MarkPublished(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET status = $2, published_at = $3, failed_at = NULL, last_error = NULL
		WHERE id = $1 AND status = $4
	`, id, models.StatusPublished, now, models.StatusProcessing)
	return err
}

// MarkFailed resolves a processing post to failed with a stored cause.
func (s *Store) MarkFailed(ctx context.Context, id string, cause string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET status = $2, failed_at = $3, last_error = $4, published_at = NULL
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailed, now, cause, models.StatusProcessing)
	return err
}

// ResetForRetry returns a failed or stuck-processing post to pending with an
// immediate scheduled time. It reports whether the post was in a retryable
// state.
func (s *Store) ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE posts
		SET status = $2, scheduled_time = $3, last_error = NULL, failed_at = NULL, processing_started_at = NULL
		WHERE id = $1 AND status IN ($4, $5)
	`, id, models.StatusPending, now, models.StatusFailed, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("reset post: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetAccount fetches platform credentials by account id.
func (s *Store) GetAccount(ctx context.Context, id string) (models.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password, api_token, proxy FROM accounts WHERE id = $1
	`, id)

	var acc models.Account
	var token, proxy pgtype.Text
	if err := row.Scan(&acc.ID, &acc.Email, &acc.Password, &token, &proxy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}
	acc.APIToken = textPtr(token)
	acc.Proxy = textPtr(proxy)
	return acc, nil
}

func scanPost(row pgx.Row) (models.Post, error) {
	var post models.Post
	var processingStarted, published, failed pgtype.Timestamptz
	var lastErr pgtype.Text

	err := row.Scan(
		&post.ID, &post.AccountID, &post.Title, &post.Description, &post.VideoURL,
		&post.Platform, &post.Status, &post.ScheduledTime, &post.CreatedAt,
		&processingStarted, &published, &failed, &lastErr,
	)
	if err != nil {
		return models.Post{}, err
	}
	post.ProcessingStartedAt = timePtr(processingStarted)
	post.PublishedAt = timePtr(published)
	post.FailedAt = timePtr(failed)
	post.LastError = textPtr(lastErr)
	return post, nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
