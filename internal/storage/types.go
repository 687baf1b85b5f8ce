package storage

import (
	"errors"
	"time"

	"crosspost/internal/content"
)

// ErrNotFound is returned by Update when the target row does not exist.
// Get reports absence as (nil, nil) instead; callers that need to
// distinguish a vanished row mid-flight rely on Update's error.
var ErrNotFound = errors.New("post not found")

// Config configures storage.
//
// Path is the SQLite database file; parent directories are created.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}

// UpdateFields is a partial update: nil fields are left untouched.
//
// Setting Status to published without an explicit PublishedTime stamps the
// current time, mirroring the write path the rest of the system expects.
type UpdateFields struct {
	Text          *string
	Status        *content.Status
	DueTime       *time.Time
	PublishedTime *time.Time
	Results       map[content.Platform]content.PlatformResult
}

// IsZero reports whether the update would touch nothing.
func (u UpdateFields) IsZero() bool {
	return u.Text == nil && u.Status == nil && u.DueTime == nil &&
		u.PublishedTime == nil && u.Results == nil
}
