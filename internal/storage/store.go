package storage

import (
	"context"
	"time"

	"crosspost/internal/content"
)

// Store is the persistence API consumed by the engine and the app.
//
// Get returns (nil, nil) when the post does not exist; absence is an
// expected condition for the scheduling engine, not an error.
type Store interface {
	Create(ctx context.Context, p *content.Post) error
	Get(ctx context.Context, id string) (*content.Post, error)
	GetByStatus(ctx context.Context, status content.Status) ([]*content.Post, error)
	GetByStatusAndTimeRange(ctx context.Context, status content.Status, from, to time.Time) ([]*content.Post, error)
	Update(ctx context.Context, id string, fields UpdateFields) error

	AppendMetric(ctx context.Context, postID string, platform content.Platform, snap content.MetricSnapshot) error
	ListMetrics(ctx context.Context, postID string, platform content.Platform) ([]content.MetricSnapshot, error)
	PruneMetrics(ctx context.Context, olderThan time.Time) (int64, error)

	CountByStatus(ctx context.Context) (map[content.Status]int, error)
	Close() error
}
