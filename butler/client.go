// Package butler uploads invoice documents to the BuchhaltungsButler
// accounting API.
package butler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrRejected is returned when the API answers with anything but 200 or 201.
var ErrRejected = errors.New("upload rejected")

// maxBodyInError caps how much of a rejection body ends up in logs.
const maxBodyInError = 512

type Options struct {
	URL     string
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	url    string
	client *resty.Client
	logger *slog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("Accept", "application/json")

	return &Client{
		url:    opts.URL,
		client: client,
		logger: opts.Logger,
	}
}

// Upload posts the file at path as the multipart field "file" with a bearer
// token. There is no retry: a rejected document stays eligible for the
// next run.
func (c *Client) Upload(ctx context.Context, apiKey, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	name := filepath.Base(path)
	c.logger.Info("Uploading to accounting API", "file", name)

	res, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetMultipartField("file", name, "application/pdf", f).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}

	switch res.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		c.logger.Info("Upload successful", "file", name)
		return nil
	default:
		body := res.String()
		if len(body) > maxBodyInError {
			body = body[:maxBodyInError]
		}
		return fmt.Errorf("%w: status %d: %s", ErrRejected, res.StatusCode(), body)
	}
}
