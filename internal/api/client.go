package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const userAgent = "liftlog-go/0.1"

// idempotencyHeader carries the transport-level idempotency key on write
// requests. Regenerated per physical attempt by the caller; the server
// deduplicates on (user, key) for 24 hours.
const idempotencyHeader = "Idempotency-Key"

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs"; internal/api/auth.go has
// the real implementation.
//
// Refresh is the 401 contract: the client calls it once when a request comes
// back unauthorized, then re-issues the identical request. A second 401
// after Refresh is terminal for that call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Client is an HTTP client for the liftlog backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

// NewClient creates a backend API client.
// baseURL is typically "https://api.liftlog.app/v1".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
	}
}

// do executes one logical request: a single physical attempt, plus at most
// one re-issue after a token refresh if the first attempt came back 401.
// The body is kept as a byte slice so the retry sends identical content.
//
// On non-2xx the response body is consumed and returned inside an *APIError;
// on success the caller owns closing resp.Body.
func (c *Client) do(ctx context.Context, method, path string, body []byte, idemKey string) (*http.Response, error) {
	resp, err := c.doOnce(ctx, method, path, body, idemKey, false)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		c.logger.Debug("request unauthorized, refreshing token",
			slog.String("method", method),
			slog.String("path", path),
		)

		resp, err = c.doOnce(ctx, method, path, body, idemKey, true)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// doOnce executes a single HTTP request. When refresh is true the token
// source is forced to refresh before the request is built.
func (c *Client) doOnce(ctx context.Context, method, path string, body []byte, idemKey string, refresh bool) (*http.Response, error) {
	var (
		tok string
		err error
	)

	if refresh {
		tok, err = c.token.Refresh(ctx)
	} else {
		tok, err = c.token.Token(ctx)
	}

	if err != nil {
		return nil, fmt.Errorf("api: obtaining token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if idemKey != "" {
		req.Header.Set(idempotencyHeader, idemKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}

	return resp, nil
}

// decode unmarshals a JSON response body into v and closes it.
func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("api: decoding response: %w", err)
	}

	return nil
}
