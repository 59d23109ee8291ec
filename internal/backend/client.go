package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/lib/logger/sl"

	"github.com/google/uuid"
)

const DefaultTimeout = 10 * time.Second

// Client executes requests against the check backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// NewClient constructs a backend client for baseURL, e.g. http://localhost:8000/api.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) (*Client, error) {
	normalizedURL, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL: normalizedURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.With(slog.String("component", "backend")),
	}, nil
}

// WithHTTPClient overrides the default http.Client. Primarily useful for testing.
func (c *Client) WithHTTPClient(httpClient *http.Client) {
	if httpClient != nil {
		c.httpClient = httpClient
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) CreateCheck(ctx context.Context, req domain.CheckRequest) (*domain.CreateCheckResponse, error) {
	var resp domain.CreateCheckResponse
	if err := c.send(ctx, http.MethodPost, "/check", req, &resp); err != nil {
		return nil, err
	}

	if resp.CheckID == "" {
		err := errors.New("create check response did not contain checkId")
		c.log.Error("request failed", slog.String("path", "/check"), sl.Err(err))
		return nil, err
	}

	return &resp, nil
}

func (c *Client) GetCheckResult(ctx context.Context, checkID string) (*domain.CheckResult, error) {
	if checkID == "" {
		return nil, errors.New("check ID is required")
	}

	var resp domain.CheckResult
	if err := c.send(ctx, http.MethodGet, checkPath(checkID), nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) DeleteCheck(ctx context.Context, checkID string) error {
	if checkID == "" {
		return errors.New("check ID is required")
	}

	return c.send(ctx, http.MethodDelete, checkPath(checkID), nil, nil)
}

func (c *Client) GetAgents(ctx context.Context) ([]domain.Agent, error) {
	var agents []domain.Agent
	if err := c.send(ctx, http.MethodGet, "/agents", nil, &agents); err != nil {
		return nil, err
	}

	return agents, nil
}

func (c *Client) GetHistory(ctx context.Context) ([]domain.CheckRecord, error) {
	var records []domain.CheckRecord
	if err := c.send(ctx, http.MethodGet, "/history", nil, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// SyncHistory pushes a locally created record to the server-side history.
func (c *Client) SyncHistory(ctx context.Context, record domain.CheckRecord) error {
	return c.send(ctx, http.MethodPost, "/history", record, nil)
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.send(ctx, http.MethodDelete, "/history", nil, nil)
}

// GetStats returns the backend's statistics document as is.
func (c *Client) GetStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.send(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}

	return stats, nil
}

func checkPath(checkID string) string {
	return "/check/" + url.PathEscape(checkID)
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("backend base URL is required")
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid backend base URL: %w", err)
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid backend base URL: %s", raw)
	}

	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return strings.TrimSuffix(parsed.String(), "/"), nil
}

// send performs one request. Every failure is logged here before it is returned.
func (c *Client) send(ctx context.Context, method, path string, in, out interface{}) error {
	requestID := uuid.NewString()

	err := c.do(ctx, method, path, requestID, in, out)
	if err != nil {
		c.log.Error("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", requestID),
			sl.Err(err),
		)
	}

	return err
}

func (c *Client) do(ctx context.Context, method, path, requestID string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("execute request: %w", ctxErr)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return &NetworkError{Method: method, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		b, _ := io.ReadAll(resp.Body)
		if len(b) > 0 {
			_ = json.Unmarshal(b, &eb)
		}
		return newAPIError(resp.StatusCode, eb)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}
