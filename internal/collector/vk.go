package collector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"crosspost/internal/content"
	"crosspost/internal/platform/vk"
	logx "crosspost/pkg/logx"
)

// VK reads wall post counters through the shared API client. The post
// reference produced by the VK publisher is "<owner>_<post_id>"; only the
// post id part is needed, the client knows its own wall.
type VK struct {
	client *vk.Client
	log    logx.Logger
}

func NewVK(client *vk.Client, log logx.Logger) *VK {
	return &VK{client: client, log: log.With(logx.String("comp", "collector.vk"))}
}

func (c *VK) Fetch(ctx context.Context, post *content.Post) (content.MetricSnapshot, error) {
	res, ok := post.Results[content.PlatformVK]
	if !ok || !res.OK {
		return content.MetricSnapshot{}, fmt.Errorf("post %s has no vk publish result", post.ID)
	}
	postID, err := parseWallRef(res.Ref)
	if err != nil {
		return content.MetricSnapshot{}, err
	}

	stats, err := c.client.WallGetByID(ctx, postID)
	if err != nil {
		return content.MetricSnapshot{}, err
	}
	return content.MetricSnapshot{
		Values: map[string]int64{
			"views":    stats.Views,
			"likes":    stats.Likes,
			"reposts":  stats.Reposts,
			"comments": stats.Comments,
		},
	}, nil
}

// parseWallRef extracts the post id from an "<owner>_<post_id>" reference.
func parseWallRef(ref string) (int64, error) {
	i := strings.LastIndexByte(ref, '_')
	if i < 0 || i == len(ref)-1 {
		return 0, fmt.Errorf("malformed vk post ref %q", ref)
	}
	id, err := strconv.ParseInt(ref[i+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed vk post ref %q: %w", ref, err)
	}
	return id, nil
}
