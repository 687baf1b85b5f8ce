package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
)

// UploadWallPhoto runs the three-step VK photo upload (request an upload URL,
// POST the file, save the result) and returns a wall.post attachment string.
func (c *Client) UploadWallPhoto(ctx context.Context, path string) (string, error) {
	uploadURL, err := c.wallUploadServer(ctx)
	if err != nil {
		return "", err
	}

	up, err := c.uploadPhotoFile(ctx, uploadURL, path)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("server", strconv.FormatInt(up.Server, 10))
	params.Set("photo", up.Photo)
	params.Set("hash", up.Hash)
	if gid := c.groupID(); gid > 0 {
		params.Set("group_id", strconv.FormatInt(gid, 10))
	}

	var saved []struct {
		ID      int64 `json:"id"`
		OwnerID int64 `json:"owner_id"`
	}
	if err := c.call(ctx, "photos.saveWallPhoto", params, &saved); err != nil {
		return "", err
	}
	if len(saved) == 0 {
		return "", fmt.Errorf("vk photos.saveWallPhoto: empty response")
	}
	return fmt.Sprintf("photo%d_%d", saved[0].OwnerID, saved[0].ID), nil
}

// groupID converts a community owner id to the positive group_id form the
// upload methods expect. Returns 0 for user walls.
func (c *Client) groupID() int64 {
	if c.cfg.OwnerID < 0 {
		return -c.cfg.OwnerID
	}
	return 0
}

func (c *Client) wallUploadServer(ctx context.Context) (string, error) {
	params := url.Values{}
	if gid := c.groupID(); gid > 0 {
		params.Set("group_id", strconv.FormatInt(gid, 10))
	}

	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.call(ctx, "photos.getWallUploadServer", params, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("vk photos.getWallUploadServer: empty upload_url")
	}
	return out.UploadURL, nil
}

type photoUpload struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

// uploadPhotoFile POSTs the file to VK's upload host. The upload host speaks
// its own protocol: plain JSON, no response/error envelope.
func (c *Client) uploadPhotoFile(ctx context.Context, uploadURL, path string) (*photoUpload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vk upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("vk upload: read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vk upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("vk upload: http %d", resp.StatusCode)
	}

	var up photoUpload
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		return nil, fmt.Errorf("vk upload: decode: %w", err)
	}
	if up.Photo == "" || up.Photo == "[]" {
		return nil, fmt.Errorf("vk upload: server rejected file %s", filepath.Base(path))
	}
	return &up, nil
}
