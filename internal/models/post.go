package models

import (
	"time"
)

// Post status values persisted in Postgres.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPublished  = "published"
	StatusFailed     = "failed"
)

// Post is a scheduled video publication persisted in Postgres.
//
// At most one of PublishedAt/FailedAt is ever set; the store enforces this
// by making terminal transitions conditional on the processing state.
type Post struct {
	ID                  string     `json:"id"`
	AccountID           string     `json:"account_id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	VideoURL            string     `json:"video_url"`
	Platform            string     `json:"platform"`
	Status              string     `json:"status"`
	ScheduledTime       time.Time  `json:"scheduled_time"`
	CreatedAt           time.Time  `json:"created_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at"`
	PublishedAt         *time.Time `json:"published_at"`
	FailedAt            *time.Time `json:"failed_at"`
	LastError           *string    `json:"last_error"`
}

// Account holds credentials for one platform account. Read-only from the
// publication side; accounts are provisioned out of band.
type Account struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	Password string  `json:"-"`
	APIToken *string `json:"-"`
	Proxy    *string `json:"proxy,omitempty"`
}
