package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"video-autoposter/internal/models"
	"video-autoposter/internal/publish"
	"video-autoposter/internal/store"
)

// fakePostStore is an in-memory PostStore with the same conditional-update
// semantics as the Postgres implementation.
type fakePostStore struct {
	mu    sync.Mutex
	order []string
	posts map[string]*models.Post
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{posts: map[string]*models.Post{}}
}

func (f *fakePostStore) add(post models.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := post
	f.posts[p.ID] = &p
	f.order = append(f.order, p.ID)
}

func (f *fakePostStore) get(id string) models.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.posts[id]
}

func (f *fakePostStore) CreatePost(_ context.Context, p store.CreatePostParams) (models.Post, error) {
	post := models.Post{
		ID:            fmt.Sprintf("post-%d", len(f.posts)+1),
		AccountID:     p.AccountID,
		Title:         p.Title,
		Description:   p.Description,
		VideoURL:      p.VideoURL,
		Platform:      p.Platform,
		Status:        models.StatusPending,
		ScheduledTime: p.ScheduledTime,
		CreatedAt:     time.Now().UTC(),
	}
	f.add(post)
	return post, nil
}

func (f *fakePostStore) GetPost(_ context.Context, id string) (models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok {
		return models.Post{}, fmt.Errorf("post %s: %w", id, store.ErrNotFound)
	}
	return *p, nil
}

func (f *fakePostStore) ListPosts(_ context.Context, status string, limit int) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Post{}
	for _, id := range f.order {
		p := f.posts[id]
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, *p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePostStore) DuePosts(_ context.Context, now time.Time, limit int) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Post{}
	for _, id := range f.order {
		p := f.posts[id]
		if p.Status == models.StatusPending && !p.ScheduledTime.After(now) {
			out = append(out, *p)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakePostStore) ClaimPost(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Status != models.StatusPending {
		return false, nil
	}
	p.Status = models.StatusProcessing
	p.ProcessingStartedAt = &now
	return true, nil
}

func (f *fakePostStore) MarkPublished(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Status != models.StatusProcessing {
		return nil
	}
	p.Status = models.StatusPublished
	p.PublishedAt = &now
	p.FailedAt = nil
	p.LastError = nil
	return nil
}

func (f *fakePostStore) MarkFailed(_ context.Context, id string, cause string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || p.Status != models.StatusProcessing {
		return nil
	}
	p.Status = models.StatusFailed
	p.FailedAt = &now
	p.LastError = &cause
	p.PublishedAt = nil
	return nil
}

func (f *fakePostStore) ResetForRetry(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.posts[id]
	if !ok || (p.Status != models.StatusFailed && p.Status != models.StatusProcessing) {
		return false, nil
	}
	p.Status = models.StatusPending
	p.ScheduledTime = now
	p.LastError = nil
	p.FailedAt = nil
	p.ProcessingStartedAt = nil
	return true, nil
}

type fakeAccountStore struct {
	accounts map[string]models.Account
}

func (f *fakeAccountStore) GetAccount(_ context.Context, id string) (models.Account, error) {
	acc, ok := f.accounts[id]
	if !ok {
		return models.Account{}, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return acc, nil
}

type fakePublisher struct {
	fn    func(post models.Post) error
	calls []string
}

func (f *fakePublisher) Publish(_ context.Context, post models.Post, _ models.Account) error {
	f.calls = append(f.calls, post.ID)
	if f.fn != nil {
		return f.fn(post)
	}
	return nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, float64, error) {
	return f.allowed, 0, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingPost(id string, due time.Time) models.Post {
	return models.Post{
		ID:            id,
		AccountID:     "acct-1",
		Title:         "title " + id,
		Description:   "desc",
		VideoURL:      "s3://videos/" + id + ".mp4",
		Platform:      "xfree",
		Status:        models.StatusPending,
		ScheduledTime: due,
		CreatedAt:     due,
	}
}

func testAccounts() *fakeAccountStore {
	return &fakeAccountStore{accounts: map[string]models.Account{
		"acct-1": {ID: "acct-1", Email: "creator@example.com", Password: "secret"},
	}}
}

func TestRunDueBatch_FailureDoesNotAbortBatch(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	posts.add(pendingPost("post-1", now.Add(-time.Minute)))
	posts.add(pendingPost("post-2", now.Add(-time.Minute)))
	posts.add(pendingPost("post-3", now.Add(-time.Minute)))

	pub := &fakePublisher{fn: func(post models.Post) error {
		if post.ID == "post-2" {
			return &publish.UploadError{Err: errors.New("attach file to input[type=\"file\"]: boom")}
		}
		return nil
	}}

	m := NewManager(Deps{Posts: posts, Accounts: testAccounts(), Publisher: pub, Logger: testLogger()})
	processed, err := m.RunDueBatch(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 3, processed)
	require.Equal(t, []string{"post-1", "post-2", "post-3"}, pub.calls)

	p1, p2, p3 := posts.get("post-1"), posts.get("post-2"), posts.get("post-3")
	require.Equal(t, models.StatusPublished, p1.Status)
	require.Equal(t, models.StatusPublished, p3.Status)
	require.Equal(t, models.StatusFailed, p2.Status)
	require.NotNil(t, p2.LastError)
	require.True(t, strings.HasPrefix(*p2.LastError, "UploadError:"), "got %q", *p2.LastError)

	// Terminal timestamps stay mutually exclusive; no post is left pending.
	for _, p := range []models.Post{p1, p2, p3} {
		require.NotEqual(t, models.StatusPending, p.Status)
		require.False(t, p.PublishedAt != nil && p.FailedAt != nil, "post %s has both terminal timestamps", p.ID)
	}
	require.NotNil(t, p1.PublishedAt)
	require.Nil(t, p1.LastError)
	require.NotNil(t, p2.FailedAt)
}

func TestRunDueBatch_ClaimsBeforePublishing(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	posts.add(pendingPost("post-1", now.Add(-time.Second)))

	pub := &fakePublisher{fn: func(post models.Post) error {
		// The post must already be claimed while the attempt runs.
		claimed := posts.get(post.ID)
		if claimed.Status != models.StatusProcessing || claimed.ProcessingStartedAt == nil {
			return fmt.Errorf("post not claimed during attempt: status=%s", claimed.Status)
		}
		return nil
	}}

	m := NewManager(Deps{Posts: posts, Accounts: testAccounts(), Publisher: pub, Logger: testLogger()})
	processed, err := m.RunDueBatch(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Equal(t, models.StatusPublished, posts.get("post-1").Status)
}

func TestRunDueBatch_SkipsNotYetDue(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	posts.add(pendingPost("post-1", now.Add(time.Hour)))

	pub := &fakePublisher{}
	m := NewManager(Deps{Posts: posts, Accounts: testAccounts(), Publisher: pub, Logger: testLogger()})
	processed, err := m.RunDueBatch(context.Background(), now)
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Empty(t, pub.calls)
	require.Equal(t, models.StatusPending, posts.get("post-1").Status)
}

func TestRunDueBatch_ThrottledPostStaysPending(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	posts.add(pendingPost("post-1", now.Add(-time.Second)))

	pub := &fakePublisher{}
	m := NewManager(Deps{
		Posts:     posts,
		Accounts:  testAccounts(),
		Publisher: pub,
		Limiter:   &fakeLimiter{allowed: false},
		Logger:    testLogger(),
	})
	processed, err := m.RunDueBatch(context.Background(), now)
	require.NoError(t, err)
	require.Zero(t, processed)
	require.Empty(t, pub.calls)
	require.Equal(t, models.StatusPending, posts.get("post-1").Status)
}

func TestRunDueBatch_LimiterErrorFailsOpen(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	posts.add(pendingPost("post-1", now.Add(-time.Second)))

	pub := &fakePublisher{}
	m := NewManager(Deps{
		Posts:     posts,
		Accounts:  testAccounts(),
		Publisher: pub,
		Limiter:   &fakeLimiter{err: errors.New("redis down")},
		Logger:    testLogger(),
	})
	processed, err := m.RunDueBatch(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, processed)
}

func TestRunDueBatch_MissingAccountResolvesToFailed(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	post := pendingPost("post-1", now.Add(-time.Second))
	post.AccountID = "nope"
	posts.add(post)

	m := NewManager(Deps{
		Posts:     posts,
		Accounts:  &fakeAccountStore{accounts: map[string]models.Account{}},
		Publisher: &fakePublisher{},
		Logger:    testLogger(),
	})
	processed, err := m.RunDueBatch(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, processed)

	got := posts.get("post-1")
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, *got.LastError, "resolve account")
}

func TestRetryPost_FailedBecomesImmediatelyDue(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	post := pendingPost("post-1", now.Add(-time.Hour))
	post.Status = models.StatusFailed
	failedAt := now.Add(-time.Minute)
	cause := "UploadError: boom"
	post.FailedAt = &failedAt
	post.LastError = &cause
	posts.add(post)

	m := NewManager(Deps{Posts: posts, Accounts: testAccounts(), Logger: testLogger()})
	require.NoError(t, m.RetryPost(context.Background(), "post-1"))

	got := posts.get("post-1")
	require.Equal(t, models.StatusPending, got.Status)
	require.Nil(t, got.LastError)
	require.Nil(t, got.FailedAt)
	require.False(t, got.ScheduledTime.After(time.Now().UTC()))
}

func TestRetryPost_NotFound(t *testing.T) {
	m := NewManager(Deps{Posts: newFakePostStore(), Accounts: testAccounts(), Logger: testLogger()})
	err := m.RetryPost(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryPost_PublishedIsRefused(t *testing.T) {
	now := time.Now().UTC()
	posts := newFakePostStore()
	post := pendingPost("post-1", now.Add(-time.Hour))
	post.Status = models.StatusPublished
	post.PublishedAt = &now
	posts.add(post)

	m := NewManager(Deps{Posts: posts, Accounts: testAccounts(), Logger: testLogger()})
	err := m.RetryPost(context.Background(), "post-1")
	require.ErrorIs(t, err, ErrAlreadyPublished)
	require.Equal(t, models.StatusPublished, posts.get("post-1").Status)
}

func TestCreatePost_Validation(t *testing.T) {
	m := NewManager(Deps{Posts: newFakePostStore(), Accounts: testAccounts(), Logger: testLogger()})
	base := CreateParams{
		AccountID:     "acct-1",
		Title:         "t",
		Description:   "d",
		VideoURL:      "s3://videos/v.mp4",
		ScheduledTime: time.Now().UTC(),
	}

	cases := []struct {
		field  string
		mutate func(*CreateParams)
	}{
		{"account_id", func(p *CreateParams) { p.AccountID = "" }},
		{"title", func(p *CreateParams) { p.Title = "" }},
		{"description", func(p *CreateParams) { p.Description = "" }},
		{"video_url", func(p *CreateParams) { p.VideoURL = "" }},
		{"scheduled_time", func(p *CreateParams) { p.ScheduledTime = time.Time{} }},
	}
	for _, tc := range cases {
		params := base
		tc.mutate(&params)
		_, err := m.CreatePost(context.Background(), params)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "field %s", tc.field)
		require.Equal(t, tc.field, verr.Field)
	}
}

func TestCreatePost_DefaultsPlatform(t *testing.T) {
	posts := newFakePostStore()
	m := NewManager(Deps{Posts: posts, Accounts: testAccounts(), Logger: testLogger()})
	post, err := m.CreatePost(context.Background(), CreateParams{
		AccountID:     "acct-1",
		Title:         "t",
		Description:   "d",
		VideoURL:      "s3://videos/v.mp4",
		ScheduledTime: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, "xfree", post.Platform)
	require.Equal(t, models.StatusPending, post.Status)
}
