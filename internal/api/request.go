package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Error kinds reported by the provider. Match with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("unavailable")
)

// APIError represents an error from the IG API.
type APIError struct {
	StatusCode int
	Code       string // IG errorCode, e.g. "error.security.client-token-invalid"
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("ig api error %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("ig api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Is maps the response onto the provider error kinds.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized ||
			strings.HasPrefix(e.Code, "error.security.client-token") ||
			strings.HasPrefix(e.Code, "error.security.oauth-token")
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests ||
			strings.HasPrefix(e.Code, "error.public-api.exceeded")
	case ErrUnavailable:
		return e.StatusCode >= 500
	}
	return false
}

type errorBody struct {
	ErrorCode string `json:"errorCode"`
}

// request describes one call to the API.
type request struct {
	method  string
	path    string
	version string
	query   url.Values
	body    any
	session *Session
}

type response struct {
	body   []byte
	header http.Header
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, r request) (*response, error) {
	fullURL := c.baseURL + r.path
	if len(r.query) > 0 {
		fullURL += "?" + r.query.Encode()
	}

	var payload io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, fullURL, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json; charset=UTF-8")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	}
	if c.apiKey != "" {
		req.Header.Set("X-IG-API-KEY", c.apiKey)
	}
	if r.version != "" {
		req.Header.Set("Version", r.version)
	}
	if r.session != nil {
		req.Header.Set("CST", r.session.CST)
		req.Header.Set("X-SECURITY-TOKEN", r.session.SecurityToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("do request: %w", ctx.Err())
		}
		return nil, fmt.Errorf("do request: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil {
			apiErr.Code = eb.ErrorCode
		}
		return nil, apiErr
	}

	return &response{body: body, header: resp.Header}, nil
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, r request) (*response, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", r.path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		resp, err := c.doRequest(ctx, r)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET request with retries.
func (c *Client) get(ctx context.Context, r request, result any) error {
	r.method = http.MethodGet
	resp, err := c.doWithRetry(ctx, r)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(resp.body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
