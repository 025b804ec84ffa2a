// ABOUTME: Rate-limited Meilisearch REST client returning raw JSON bodies.
// ABOUTME: Non-2xx responses surface as envelope.UpstreamError with status and body.

package meili

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

	"golang.org/x/time/rate"

	"github.com/2389/meili-gateway/internal/envelope"
)

// DefaultHost is used when no host is configured.
const DefaultHost = "http://localhost:7700"

// maxResponseSize caps how much of a response body is read (32MB).
const maxResponseSize = 32 << 20

// Config configures a Client.
type Config struct {
	Host       string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; 0 disables limiting
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a Meilisearch REST client.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a Client for the configured host.
func NewClient(cfg Config) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing meilisearch host: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("meilisearch host must be http or https, got %q", host)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Host returns the base URL the client talks to.
func (c *Client) Host() string { return c.base.String() }

// Do performs a request and returns the response body. body may be nil,
// a json.RawMessage sent verbatim, or any value encoded as JSON.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	// path segments arrive already escaped, so the URL is assembled as text.
	target := c.base.String() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := encodeBody(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meilisearch %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading meilisearch response: %w", err)
	}

	c.logger.Debug("meilisearch request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &envelope.UpstreamError{
			Status: resp.StatusCode,
			Body:   string(data),
			Method: method,
			Path:   path,
		}
	}

	return normalizeBody(data), nil
}

// Get is shorthand for a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil)
}

// Healthy reports whether the instance answers /health with "available".
func (c *Client) Healthy(ctx context.Context) error {
	raw, err := c.Get(ctx, "/health", nil)
	if err != nil {
		return err
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if health.Status != "available" {
		return fmt.Errorf("meilisearch status %q", health.Status)
	}
	return nil
}

func encodeBody(body any) ([]byte, error) {
	if raw, ok := body.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New("request body is not valid JSON")
		}
		return raw, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return payload, nil
}

// normalizeBody guarantees a JSON value: empty bodies become {} and
// non-JSON text is returned as a JSON string.
func normalizeBody(data []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return json.RawMessage(quoted)
}
