package finnhub

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"quotefeed/internal/provider"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=finnhub_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the upstream quote API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
}

var _ provider.Provider = (*Client)(nil)

// Option is a configuration option for the quote API client.
type Option func(*Client)

// WithBaseURL overrides the base URL for the API.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// New creates a client for the quote API rooted at baseURL. An empty base
// URL means the layer is not configured and no client can be built. The
// token, when set, authenticates every request as a query parameter.
func New(baseURL, token string, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, provider.ErrNotConfigured
	}
	var client = &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if token != "" {
		client.query.Add("token", token)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Name identifies the provider in logs.
func (c *Client) Name() string { return "finnhub" }

// checkStatus maps an HTTP status code to one of the provider error kinds.
func checkStatus(code int) error {
	switch code {
	case http.StatusOK:
		return nil

	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: status code %d", provider.ErrRateLimited, code)

	case http.StatusNotFound:
		return fmt.Errorf("%w: status code %d", provider.ErrNotFound, code)

	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: unauthorized", provider.ErrUnavailable)

	default:
		return fmt.Errorf("%w: unexpected status code: %d", provider.ErrUnavailable, code)
	}
}

// classifyError maps an error message embedded in a 200 body to an error
// kind. Some deployments report throttling this way instead of a 429.
func classifyError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "limit") || strings.Contains(lower, "throttl"):
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, msg)

	case strings.Contains(lower, "not found") || strings.Contains(lower, "no data"):
		return fmt.Errorf("%w: %s", provider.ErrNotFound, msg)

	default:
		return fmt.Errorf("%w: %s", provider.ErrUnavailable, msg)
	}
}

// queryClone copies the shared query values so per-request parameters never
// leak between calls.
func (c *Client) queryClone() url.Values {
	return maps.Clone(c.query)
}

// deref is a small helper to flatten optional wire fields.
func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
