// Package gcs stores artifacts in one Google Cloud Storage bucket through the
// JSON API.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/storage"
)

const (
	defaultEndpoint = "https://storage.googleapis.com"
	requestTimeout  = 30 * time.Second
	pingTimeout     = 5 * time.Second
	maxErrorBody    = 2048
	maxRetries      = 3
	retryBase       = 200 * time.Millisecond
)

var errNotInitialized = errors.New("gcs: client not initialized")

type Client struct {
	http     *http.Client
	bucket   string
	endpoint string
	backoff  func() retry.Backoff
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs: bucket name is required")
	}
	creds, err := credentialsFor(ctx, gcp)
	if err != nil {
		return nil, fmt.Errorf("gcs credentials: %w", err)
	}

	client := newClient(authorizedClient(creds.TokenSource, nil), cfg.BucketName, defaultEndpoint)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs artifact store ready")
	}
	return client, nil
}

func newClient(httpClient *http.Client, bucket, endpoint string) *Client {
	return &Client{
		http:     httpClient,
		bucket:   bucket,
		endpoint: strings.TrimRight(endpoint, "/"),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase))
		},
	}
}

func (c *Client) Bucket() string {
	if c == nil {
		return ""
	}
	return c.bucket
}

// Close is a no-op; the HTTP transport is shared.
func (c *Client) Close() error { return nil }

// Ping lists at most one object, which proves both credentials and bucket
// access.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.http == nil {
		return errNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.call(ctx, "list", http.MethodGet, c.bucketURL()+"/o?maxResults=1", nil, "", nil)
}

func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	name, err := c.prepare(key)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/upload/storage/v1/b/%s/o?uploadType=media&name=%s",
		c.endpoint, url.PathEscape(c.bucket), url.QueryEscape(name))
	return c.call(ctx, "upload", http.MethodPost, u, data, storage.DetectContentType(data, contentType), nil)
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, string, error) {
	name, err := c.prepare(key)
	if err != nil {
		return nil, "", err
	}
	var body []byte
	var contentType string
	err = c.call(ctx, "download", http.MethodGet, c.objectURL(name)+"?alt=media", nil, "", func(resp *http.Response) error {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read object %q: %w", name, err)
		}
		body, contentType = data, resp.Header.Get("Content-Type")
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return body, storage.DetectContentType(body, contentType), nil
}

// Copy duplicates an object server-side within the bucket.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := c.prepare(srcKey)
	if err != nil {
		return err
	}
	dst, err := storage.CleanKey(dstKey)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/copyTo/b/%s/o/%s", c.objectURL(src), url.PathEscape(c.bucket), url.PathEscape(dst))
	return c.call(ctx, "copy", http.MethodPost, u, nil, "", nil)
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	name, err := c.prepare(key)
	if err != nil {
		return false, err
	}
	err = c.call(ctx, "stat", http.MethodGet, c.objectURL(name), nil, "", nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (c *Client) prepare(key string) (string, error) {
	if c == nil || c.http == nil {
		return "", errNotInitialized
	}
	return storage.CleanKey(key)
}

func (c *Client) bucketURL() string {
	return c.endpoint + "/storage/v1/b/" + url.PathEscape(c.bucket)
}

func (c *Client) objectURL(name string) string {
	return c.bucketURL() + "/o/" + url.PathEscape(name)
}

// call performs one API request, retrying throttling and server errors. All
// operations here are keyed by object name, so a repeat is harmless. A 404
// maps to storage.ErrNotFound; onOK may consume the body of a 200.
func (c *Client) call(ctx context.Context, op, method, u string, body []byte, contentType string, onOK func(*http.Response) error) error {
	return retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("gcs %s: %w", op, err))
		}
		defer func() { _ = resp.Body.Close() }()

		switch status := resp.StatusCode; {
		case status == http.StatusOK:
			if onOK != nil {
				return onOK(resp)
			}
			return nil
		case status == http.StatusNotFound:
			return storage.ErrNotFound
		case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
			return retry.RetryableError(statusError(op, resp))
		default:
			return statusError(op, resp)
		}
	})
}

func statusError(op string, resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if msg := strings.TrimSpace(string(detail)); msg != "" {
		return fmt.Errorf("gcs %s failed: %s: %s", op, resp.Status, msg)
	}
	return fmt.Errorf("gcs %s failed: %s", op, resp.Status)
}
