package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const userAgent = "fieldsync/0.1"

// Default timeout applied when the caller passes zero.
const defaultRequestTimeout = 30 * time.Second

// TokenSource provides bearer tokens for the coordination server. Defined
// at the consumer per Go convention "accept interfaces, return structs".
// A static config token and an OAuth2 client-credentials source both
// satisfy it.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource returning a fixed API token from config.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// Client talks to the coordination server. Each request carries a
// per-request timeout; a timed-out or failed request surfaces as an error
// for the engine to translate into per-item failure verdicts.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient creates a client for the server at baseURL (no trailing slash).
// token may be nil for unauthenticated deployments (e.g. a field LAN
// relay). timeout of zero uses the 30s default.
func NewClient(
	baseURL string, httpClient *http.Client, token TokenSource,
	timeout time.Duration, logger *slog.Logger,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		timeout:    timeout,
		logger:     logger,
	}
}

// SendBatch POSTs a batch of changes to /sync/batch and returns the
// per-item verdicts. The whole batch travels as one request; any transport
// failure, non-2xx status, or malformed response is returned as an error
// covering the entire batch.
func (c *Client) SendBatch(ctx context.Context, changes []Change) ([]ItemResult, error) {
	body, err := json.Marshal(batchRequest{Changes: changes})
	if err != nil {
		return nil, fmt.Errorf("api: encoding batch: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/sync/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var results []ItemResult

	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("api: decoding batch response: %w", err)
	}

	c.logger.Debug("batch dispatched",
		slog.Int("changes", len(changes)),
		slog.Int("verdicts", len(results)),
	)

	return results, nil
}

// Health probes the server's health endpoint. A nil return means the
// server is reachable and answering; the connectivity monitor treats any
// error as offline.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// do executes one HTTP request under the client's per-request timeout and
// returns the response if it is 2xx. Non-2xx responses are drained, closed,
// and converted to a classified StatusError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != nil {
		tok, tokErr := c.token.Token()
		if tokErr != nil {
			cancel()
			return nil, fmt.Errorf("api: obtaining token: %w", tokErr)
		}

		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by caller or below
	if err != nil {
		cancel()
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		// Tie the timeout cancel to body close so the caller can stream
		// the response without the context being torn down early.
		resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
	resp.Body.Close()
	cancel()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		Body:       string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// cancelReadCloser releases the request's timeout context when the
// response body is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()

	return err
}
