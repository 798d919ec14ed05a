// Package idconv is a client for the NCBI PMC ID Converter API, which maps
// PubMed and PubMed Central identifiers to DOIs.
package idconv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// BaseURL is the ID Converter API endpoint.
	BaseURL = "https://www.ncbi.nlm.nih.gov/pmc/utils/idconv/v1.0/"

	// DefaultTool identifies this program to NCBI.
	DefaultTool = "oscapify"

	// DefaultTimeout bounds every request.
	DefaultTimeout = 30 * time.Second

	// MaxBatchSize is the largest id list NCBI accepts in one request.
	MaxBatchSize = 200

	// DefaultInterval keeps anonymous callers under 3 requests per second.
	DefaultInterval = 340 * time.Millisecond

	// APIKeyInterval keeps keyed callers under 10 requests per second.
	APIKeyInterval = 100 * time.Millisecond

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 8 << 20
)

// Client is a rate-limited HTTP client for the ID Converter API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	interval   time.Duration
	timeout    time.Duration
	apiKey     string
	email      string
	tool       string
	baseURL    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the NCBI API key, which also shortens the request interval.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithEmail sets the contact address NCBI asks tools to send.
func WithEmail(email string) ClientOption {
	return func(c *Client) {
		c.email = email
	}
}

// WithTool sets the tool name sent with each request.
func WithTool(tool string) ClientOption {
	return func(c *Client) {
		c.tool = tool
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithInterval overrides the minimum delay between requests.
func WithInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.interval = d
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a new ID Converter client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		tool:       DefaultTool,
		baseURL:    BaseURL,
	}

	// Check for API key in environment
	if key := os.Getenv("NCBI_API_KEY"); key != "" {
		c.apiKey = key
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.interval == 0 {
		c.interval = DefaultInterval
		if c.apiKey != "" {
			c.interval = APIKeyInterval
		}
	}
	c.limiter = rate.NewLimiter(rate.Every(c.interval), 1)

	return c
}

// Interval returns the minimum delay enforced between requests.
func (c *Client) Interval() time.Duration {
	return c.interval
}

// HasAPIKey reports whether requests are authenticated.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	return nil
}

// Convert looks up a batch of ids of one type ("pmid" or "pmcid").
func (c *Client) Convert(ctx context.Context, idType string, ids []string) (*Response, error) {
	if len(ids) == 0 {
		return &Response{Status: "ok"}, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ids), MaxBatchSize)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("format", "json")
	params.Set("tool", c.tool)
	if idType != "" {
		params.Set("idtype", idType)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", ErrInvalidResponse, err)
	}
	if out.Status != "" && out.Status != "ok" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: out.Message}
	}

	return &out, nil
}

// classifyTransportError separates caller cancellation from timeouts and
// other network failures.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkError, err)
}
