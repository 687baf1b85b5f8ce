package engine

import (
	"time"

	"crosspost/internal/content"
)

// PostEvent is the bus payload of post.* events.
type PostEvent struct {
	PostID    string                                      `json:"post_id"`
	Status    content.Status                              `json:"status,omitempty"`
	Due       time.Time                                   `json:"due"`
	Platforms []content.Platform                          `json:"platforms,omitempty"`
	Results   map[content.Platform]content.PlatformResult `json:"results,omitempty"`
}

// TrackingEvent is the bus payload of tracking.* events.
type TrackingEvent struct {
	PostID    string             `json:"post_id"`
	Platform  content.Platform   `json:"platform,omitempty"`
	Platforms []content.Platform `json:"platforms,omitempty"`
	Cycles    int                `json:"cycles,omitempty"`
	Values    map[string]int64   `json:"values,omitempty"`
}
