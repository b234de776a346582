package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"video-autoposter/internal/lifecycle"
	"video-autoposter/internal/models"
	"video-autoposter/internal/store"
	"video-autoposter/internal/telemetry"
)

// PostService is the lifecycle surface the HTTP layer needs.
type PostService interface {
	CreatePost(ctx context.Context, p lifecycle.CreateParams) (models.Post, error)
	GetPost(ctx context.Context, id string) (models.Post, error)
	ListPosts(ctx context.Context, status string, limit int) ([]models.Post, error)
	RetryPost(ctx context.Context, id string) error
}

// Server wires HTTP handlers for the post API.
type Server struct {
	svc    PostService
	logger *slog.Logger
}

// New constructs the API server.
func New(svc PostService, logger *slog.Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/posts", s.handleCreate)
	r.Get("/posts", s.handleList)
	r.Get("/posts/{id}", s.handleGet)
	r.Post("/posts/{id}/retry", s.handleRetry)
	return r
}

type createRequest struct {
	AccountID     string     `json:"account_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	VideoURL      string     `json:"video_url"`
	Platform      string     `json:"platform"`
	ScheduledTime *time.Time `json:"scheduled_time"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	params := lifecycle.CreateParams{
		AccountID:   req.AccountID,
		Title:       req.Title,
		Description: req.Description,
		VideoURL:    req.VideoURL,
		Platform:    req.Platform,
	}
	if req.ScheduledTime != nil {
		params.ScheduledTime = *req.ScheduledTime
	}

	post, err := s.svc.CreatePost(r.Context(), params)
	if err != nil {
		var verr *lifecycle.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("create post failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}

	telemetry.PostsCreated.Inc()
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	posts, err := s.svc.ListPosts(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("list posts failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts, "count": len(posts)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	post, err := s.svc.GetPost(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "post not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get post failed", "post_id", id, "error", err)
		http.Error(w, "get failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.RetryPost(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "post not found", http.StatusNotFound)
		case errors.Is(err, lifecycle.ErrAlreadyPublished):
			http.Error(w, "post already published", http.StatusConflict)
		default:
			s.logger.Error("retry post failed", "post_id", id, "error", err)
			http.Error(w, "retry failed", http.StatusInternalServerError)
		}
		return
	}
	telemetry.PostsRetried.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusPending})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
