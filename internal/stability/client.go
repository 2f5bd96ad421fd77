// Package stability calls the upstream image API for generation and
// background removal. Payloads are opaque to the rest of the service: bytes
// in, bytes out.
package stability

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultBaseURL = "https://api.stability.ai"

// responseLimit caps how much image data is read from the upstream.
const responseLimit = 32 << 20 // 32 MiB

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = u
	}
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// GenerateImage renders an image for the prompt and returns the raw encoded
// bytes in the requested output format.
func (c *Client) GenerateImage(ctx context.Context, prompt, outputFormat string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("prompt", prompt); err != nil {
		return nil, fmt.Errorf("write prompt field: %w", err)
	}
	if err := mw.WriteField("output_format", outputFormat); err != nil {
		return nil, fmt.Errorf("write output_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return c.post(ctx, "/v2beta/stable-image/generate/core", body.Bytes(), mw.FormDataContentType())
}

// RemoveBackground removes the background from the uploaded image and returns
// the raw encoded result.
func (c *Client) RemoveBackground(ctx context.Context, image []byte, outputFormat string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, fmt.Errorf("create image part: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.WriteField("output_format", outputFormat); err != nil {
		return nil, fmt.Errorf("write output_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return c.post(ctx, "/v2beta/stable-image/edit/remove-background", body.Bytes(), mw.FormDataContentType())
}

// post sends the request with retries. Transport errors and 5xx responses are
// retried with fibonacci backoff; 4xx responses fail immediately.
func (c *Client) post(ctx context.Context, path string, body []byte, contentType string) ([]byte, error) {
	var result []byte
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "image/*")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("upstream status %d", resp.StatusCode)
		}

		result, err = io.ReadAll(io.LimitReader(resp.Body, responseLimit))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read upstream response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", path, err)
	}
	return result, nil
}
