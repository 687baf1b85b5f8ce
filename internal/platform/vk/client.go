package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"crosspost/pkg/logx"
)

const defaultAPIVersion = "5.131"

// Config holds connection settings for one VK account or community.
type Config struct {
	// Token is a user or community access token with wall permissions.
	Token string
	// OwnerID is the wall to post to. Negative values address a community.
	OwnerID int64
	// APIVersion overrides the VK API version. Empty means defaultAPIVersion.
	APIVersion string
	// BaseURL overrides the API endpoint. Empty means the public VK API.
	BaseURL string
	// Timeout bounds a single HTTP round trip. Zero means 30s.
	Timeout time.Duration
}

// APIError is the error envelope VK returns inside a 200 response.
type APIError struct {
	Code int    `json:"error_code"`
	Msg  string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk api error %d: %s", e.Code, e.Msg)
}

// Client talks to the VK API. Safe for concurrent use.
type Client struct {
	cfg   Config
	httpc *http.Client
	lim   *rate.Limiter
	log   logx.Logger
}

// New builds a Client. VK throttles user tokens at 3 requests per second;
// the built-in limiter keeps callers under that cap.
func New(cfg Config, log logx.Logger) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.vk.com/method"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: timeout},
		lim:   rate.NewLimiter(rate.Every(time.Second/3), 3),
		log:   log,
	}
}

// OwnerID reports the wall this client posts to.
func (c *Client) OwnerID() int64 { return c.cfg.OwnerID }

// call performs one API method call and decodes the "response" field into out.
func (c *Client) call(ctx context.Context, method string, params url.Values, out any) error {
	if err := c.lim.Wait(ctx); err != nil {
		return err
	}

	form := url.Values{}
	for k, vs := range params {
		form[k] = vs
	}
	form.Set("access_token", c.cfg.Token)
	form.Set("v", c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("vk %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("vk %s: http %d", method, resp.StatusCode)
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("vk %s: decode: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("vk %s: %w", method, envelope.Error)
	}
	if out != nil && len(envelope.Response) > 0 {
		if err := json.Unmarshal(envelope.Response, out); err != nil {
			return fmt.Errorf("vk %s: decode response: %w", method, err)
		}
	}
	return nil
}

// WallPost publishes a wall post and returns its VK post id.
// Attachments use VK's "<type><owner>_<id>" notation.
func (c *Client) WallPost(ctx context.Context, message string, attachments []string) (int64, error) {
	params := url.Values{}
	params.Set("owner_id", strconv.FormatInt(c.cfg.OwnerID, 10))
	params.Set("message", message)
	if len(attachments) > 0 {
		params.Set("attachments", strings.Join(attachments, ","))
	}
	if c.cfg.OwnerID < 0 {
		params.Set("from_group", "1")
	}

	var out struct {
		PostID int64 `json:"post_id"`
	}
	if err := c.call(ctx, "wall.post", params, &out); err != nil {
		return 0, err
	}
	if out.PostID == 0 {
		return 0, fmt.Errorf("vk wall.post: empty post_id in response")
	}
	return out.PostID, nil
}

// PostStats is the subset of wall.getById counters the tracker records.
type PostStats struct {
	Views    int64
	Likes    int64
	Reposts  int64
	Comments int64
}

// WallGetByID fetches engagement counters for one wall post.
func (c *Client) WallGetByID(ctx context.Context, postID int64) (*PostStats, error) {
	params := url.Values{}
	params.Set("posts", fmt.Sprintf("%d_%d", c.cfg.OwnerID, postID))

	type counter struct {
		Count int64 `json:"count"`
	}
	var out []struct {
		Views    counter `json:"views"`
		Likes    counter `json:"likes"`
		Reposts  counter `json:"reposts"`
		Comments counter `json:"comments"`
	}
	if err := c.call(ctx, "wall.getById", params, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("vk wall.getById: post %d_%d not found", c.cfg.OwnerID, postID)
	}
	p := out[0]
	return &PostStats{
		Views:    p.Views.Count,
		Likes:    p.Likes.Count,
		Reposts:  p.Reposts.Count,
		Comments: p.Comments.Count,
	}, nil
}
