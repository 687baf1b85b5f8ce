package publisher

import (
	"context"
	"fmt"

	"crosspost/internal/content"
	"crosspost/internal/platform/vk"
	logx "crosspost/pkg/logx"
)

// VK publishes wall posts through the shared API client. Photo attachments
// are uploaded first; an attachment that fails to upload is logged and
// dropped, the post itself still goes out.
type VK struct {
	client *vk.Client
	log    logx.Logger
}

func NewVK(client *vk.Client, log logx.Logger) *VK {
	return &VK{client: client, log: log.With(logx.String("comp", "publisher.vk"))}
}

func (p *VK) Publish(ctx context.Context, text string, media []content.MediaRef) (string, error) {
	attachments := make([]string, 0, len(media))
	for _, m := range media {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if m.Kind != content.MediaPhoto {
			p.log.Warn("unsupported media kind for wall post, skipping",
				logx.String("kind", string(m.Kind)),
				logx.String("ref", m.Ref))
			continue
		}
		att, err := p.client.UploadWallPhoto(ctx, m.Ref)
		if err != nil {
			p.log.Warn("photo upload failed, posting without it",
				logx.String("ref", m.Ref),
				logx.Err(err))
			continue
		}
		attachments = append(attachments, att)
	}

	postID, err := p.client.WallPost(ctx, text, attachments)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d_%d", p.client.OwnerID(), postID), nil
}
