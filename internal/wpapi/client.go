// Package wpapi implements the remote API client contract the sync
// engine consumes: HTTP Basic auth against
// {url}/wp-json/wpdrive/v1, with exponential-backoff retry on
// transient network errors.
package wpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Backoff parameters for transient network-level retries (distinct
// from the engine's adaptive chunk-size halving, which the engine
// drives itself by inspecting APIError.Retryable()).
const (
	maxNetworkRetries = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
)

// Config configures a Client.
type Config struct {
	URL         string
	User        string
	AppPassword string
	Timeout     time.Duration
}

// Client talks to the wpdrive REST API.
type Client struct {
	base       string
	user       string
	password   string
	httpClient *http.Client
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// New constructs a Client from cfg.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:     trimTrailingSlash(cfg.URL) + "/wp-json/wpdrive/v1",
		user:     cfg.User,
		password: cfg.AppPassword,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:    logger,
		sleepFunc: sleepCtx,
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}

	return s
}

// Changes returns changes with change_id > since, ascending, at most
// limit entries.
func (c *Client) Changes(ctx context.Context, since int64, limit int) (*ChangesResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))

	resp, err := c.do(ctx, http.MethodGet, "/changes?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out ChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("wpapi: decoding changes response: %w", err)
	}

	return &out, nil
}

// uploadInitRequest mirrors the JSON body upload_init sends; crc32 is
// transmitted as a decimal string to avoid JSON integer ambiguity.
type uploadInitRequest struct {
	RelPath     string `json:"rel_path"`
	Size        int64  `json:"size"`
	Mtime       int64  `json:"mtime"`
	CRC32       string `json:"crc32"`
	BaseRev     int64  `json:"base_rev"`
	DeviceID    string `json:"device_id"`
	DeviceLabel string `json:"device_label"`
}

// UploadInit begins an upload session.
func (c *Client) UploadInit(ctx context.Context, relPath string, size, mtime int64, crc32 uint32, baseRev int64, deviceID, deviceLabel string) (*UploadInitResponse, error) {
	body, err := json.Marshal(uploadInitRequest{
		RelPath:     relPath,
		Size:        size,
		Mtime:       mtime,
		CRC32:       strconv.FormatUint(uint64(crc32), 10),
		BaseRev:     baseRev,
		DeviceID:    deviceID,
		DeviceLabel: deviceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("wpapi: encoding upload_init request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/upload/init", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out UploadInitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("wpapi: decoding upload_init response: %w", err)
	}

	return &out, nil
}

// UploadChunk appends data at offset within uploadID's session. This
// single call is what the engine retries with progressively smaller
// chunk sizes on a transient APIError; UploadChunk
// itself does not retry on those statuses, only on raw network
// failure, so the engine's halving logic sees every transient status.
func (c *Client) UploadChunk(ctx context.Context, uploadID string, offset int64, data []byte) error {
	q := url.Values{}
	q.Set("upload_id", uploadID)
	q.Set("offset", strconv.FormatInt(offset, 10))

	resp, err := c.do(ctx, http.MethodPost, "/upload/chunk?"+q.Encode(), bytes.NewReader(data), "application/octet-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// UploadFinalize commits the upload session.
func (c *Client) UploadFinalize(ctx context.Context, uploadID string) (*UploadFinalizeResponse, error) {
	body, err := json.Marshal(map[string]string{"upload_id": uploadID})
	if err != nil {
		return nil, fmt.Errorf("wpapi: encoding upload_finalize request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/upload/finalize", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out UploadFinalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("wpapi: decoding upload_finalize response: %w", err)
	}

	return &out, nil
}

// Delete tombstones the remote entry for relPath.
func (c *Client) Delete(ctx context.Context, relPath, deviceID string) error {
	body, err := json.Marshal(map[string]string{"rel_path": relPath, "device_id": deviceID})
	if err != nil {
		return fmt.Errorf("wpapi: encoding delete request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/delete", bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// DownloadStream returns a reader over relPath's current content. The
// caller must close it.
func (c *Client) DownloadStream(ctx context.Context, relPath string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("path", relPath)

	resp, err := c.do(ctx, http.MethodGet, "/download?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}

	return resp.Body, nil
}

// do executes an authenticated request with exponential-backoff retry
// on network-level failures, classifying non-2xx responses into
// *APIError the way the engine expects.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	var bodyBytes []byte

	if body != nil {
		var err error

		bodyBytes, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("wpapi: reading request body: %w", err)
		}
	}

	var attempt int

	for {
		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}

		resp, err := c.attempt(ctx, method, path, reqBody, contentType)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				// Non-2xx responses are the engine's concern (adaptive
				// chunk halving, conflict detection, ...): propagate
				// immediately rather than retrying here.
				return nil, err
			}

			if ctx.Err() != nil {
				return nil, fmt.Errorf("wpapi: request canceled: %w", ctx.Err())
			}

			if attempt >= maxNetworkRetries {
				return nil, fmt.Errorf("wpapi: %s %s failed after %d retries: %w", method, path, maxNetworkRetries, err)
			}

			backoff := calcBackoff(attempt)

			c.logger.Warn("retrying after network error",
				"method", method, "path", path, "attempt", attempt+1, "backoff", backoff, "error", err)

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("wpapi: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		return resp, nil
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("wpapi: building request: %w", err)
	}

	req.SetBasicAuth(c.user, c.password)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wpapi: %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer resp.Body.Close()

	var payload struct {
		Message string `json:"message"`
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2000))
	if jsonErr := json.Unmarshal(raw, &payload); jsonErr != nil {
		payload.Message = string(raw)
	}

	return nil, newAPIError(resp.StatusCode, payload.Message)
}

func calcBackoff(attempt int) time.Duration {
	backoff := time.Duration(float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt)))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	jitter := time.Duration(rand.Float64() * jitterFraction * float64(backoff))

	return backoff + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
