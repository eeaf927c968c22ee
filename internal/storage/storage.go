// Package storage uploads files to store buckets and builds their view URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/mesh-intelligence/docrel/internal/gateway"
	"github.com/mesh-intelligence/docrel/pkg/types"
)

// File describes a stored file.
type File struct {
	ID       string `json:"$id"`
	Bucket   string `json:"bucketId"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"sizeOriginal"`
}

// Client is bound to the same store and session as the gateway.
type Client struct {
	gw *gateway.Client
}

func New(gw *gateway.Client) *Client {
	return &Client{gw: gw}
}

func filesPath(bucket string) string {
	return "/storage/buckets/" + url.PathEscape(bucket) + "/files"
}

func filePath(bucket, fileID string) string {
	return filesPath(bucket) + "/" + url.PathEscape(fileID)
}

// Upload stores the contents of r as fileID in bucket. With upsert an
// existing file of the same ID is removed first; a missing one is not an
// error. An empty fileID lets the store assign one.
func (c *Client) Upload(ctx context.Context, bucket, fileID, name string, r io.Reader, upsert bool) (*File, error) {
	if fileID == "" {
		fileID = gateway.UniqueID
	} else if upsert {
		if err := c.Remove(ctx, bucket, fileID); err != nil && !types.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("replace %s/%s: %w", bucket, fileID, err)
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("fileId", fileID); err != nil {
		return nil, err
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.gw.NewRequest(ctx, http.MethodPost, filesPath(bucket), nil, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var f File
	if err := c.gw.Send(req, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Remove deletes a file.
func (c *Client) Remove(ctx context.Context, bucket, fileID string) error {
	return c.gw.Call(ctx, http.MethodDelete, filePath(bucket, fileID), nil, nil, nil)
}

// ViewURL returns the public view URL of a file.
func (c *Client) ViewURL(bucket, fileID string) string {
	return c.gw.URL(filePath(bucket, fileID)+"/view", url.Values{"project": {c.gw.Project()}})
}
