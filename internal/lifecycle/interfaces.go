package lifecycle

import (
	"context"
	"time"

	"video-autoposter/internal/models"
	"video-autoposter/internal/store"
)

// PostStore is the slice of the document store the manager drives the state
// machine through. Correctness against double-publication requires ClaimPost
// to be an atomic conditional update; the Postgres store provides that.
type PostStore interface {
	CreatePost(ctx context.Context, p store.CreatePostParams) (models.Post, error)
	GetPost(ctx context.Context, id string) (models.Post, error)
	ListPosts(ctx context.Context, status string, limit int) ([]models.Post, error)
	DuePosts(ctx context.Context, now time.Time, limit int) ([]models.Post, error)
	ClaimPost(ctx context.Context, id string, now time.Time) (bool, error)
	MarkPublished(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, cause string, now time.Time) error
	ResetForRetry(ctx context.Context, id string, now time.Time) (bool, error)
}

// AccountStore resolves platform credentials. Read-only here.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
}

// Publisher executes one publication attempt for a claimed post.
type Publisher interface {
	Publish(ctx context.Context, post models.Post, account models.Account) error
}

// AttemptLimiter throttles publication attempts per account. Optional.
type AttemptLimiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// PostEvent is emitted on every terminal transition.
type PostEvent struct {
	PostID     string    `json:"post_id"`
	AccountID  string    `json:"account_id"`
	Platform   string    `json:"platform"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventSink receives terminal-transition events. Optional; delivery is
// best-effort and never affects post state.
type EventSink interface {
	PublishEvent(ctx context.Context, event PostEvent) error
}
