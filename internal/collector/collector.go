// Package collector fetches engagement counters from the platforms a post
// was published to. Each adapter reads the platform reference the publisher
// stored in the post's results and asks the platform API for the current
// counters. Snapshots carry no timestamp; the engine stamps them with its
// own clock before persisting.
package collector

import (
	"context"

	"crosspost/internal/content"
)

// PlatformCollector fetches one platform's counters for a published post.
type PlatformCollector interface {
	Fetch(ctx context.Context, post *content.Post) (content.MetricSnapshot, error)
}
