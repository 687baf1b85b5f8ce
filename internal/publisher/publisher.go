// Package publisher delivers posts to their target platforms and reports
// per-platform outcomes. Failures are values in the result map; one platform
// can never abort another.
package publisher

import (
	"context"

	"crosspost/internal/content"
)

// PlatformPublisher publishes one post to a single platform and returns the
// platform post reference (message id for Telegram, owner_post for VK).
type PlatformPublisher interface {
	Publish(ctx context.Context, text string, media []content.MediaRef) (string, error)
}
