// Package content holds the records the scheduling engine moves through their
// lifecycle: posts, their per-platform publish results, and metric snapshots.
package content

import "time"

// Platform identifies a publishing target.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformVK       Platform = "vk"
)

func (p Platform) String() string { return string(p) }

// MediaKind classifies an attached media reference.
type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// MediaRef points at an already-stored media object. The engine never reads
// the bytes; platform publishers resolve the reference themselves.
type MediaRef struct {
	Kind MediaKind `json:"kind"`
	// Ref is a local path or a platform file id, publisher-interpreted.
	Ref string `json:"ref"`
}

// PlatformResult is the outcome of one platform's publish attempt.
type PlatformResult struct {
	OK bool `json:"ok"`
	// Ref is the platform post reference (message id, owner_post id) when OK.
	Ref string `json:"ref,omitempty"`
	// Error is the failure text when not OK.
	Error string `json:"error,omitempty"`
}

// Post is a unit of content with a publish lifecycle.
//
// Owned by the store; once status reaches scheduled, only the engine mutates
// status/published_time/results.
type Post struct {
	ID        string
	Text      string
	Media     []MediaRef
	Platforms []Platform

	Status        Status
	DueTime       *time.Time
	PublishedTime *time.Time
	Results       map[Platform]PlatformResult

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SucceededPlatforms returns the platforms whose last publish attempt
// succeeded, in the order of p.Platforms.
func (p *Post) SucceededPlatforms() []Platform {
	if len(p.Results) == 0 {
		return nil
	}
	var out []Platform
	for _, pl := range p.Platforms {
		if r, ok := p.Results[pl]; ok && r.OK {
			out = append(out, pl)
		}
	}
	return out
}

// MetricSnapshot is one collected engagement measurement for one platform.
// Snapshots are append-only; the engine never updates or replaces them.
type MetricSnapshot struct {
	// Values holds platform-specific counters (views, likes, reposts, ...).
	Values      map[string]int64
	CollectedAt time.Time
}
