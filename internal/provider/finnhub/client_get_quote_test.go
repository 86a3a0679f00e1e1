package finnhub_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"quotefeed/internal/provider"
	finnhub "quotefeed/internal/provider/finnhub"
)

func TestQuote(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "/api/quote/AAPL", req.URL.Path)
			require.Equal(t, "test-key", req.URL.Query().Get("token"))

			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(mockQuoteResponse))

			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(buffer),
			}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "test-key", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)
	require.NotNil(t, client)

	// Act: call Quote with a lowercase symbol
	quote, err := client.Quote(t.Context(), "aapl")
	require.NoError(t, err)
	require.NotNil(t, quote)

	// Assert: the quote should be mapped into the canonical shape
	require.Equal(t, "AAPL", quote.Symbol)
	require.InEpsilon(t, 189.84, quote.Price, 0.0001)
	require.InEpsilon(t, 1.34, quote.Change, 0.0001)
	require.InEpsilon(t, 0.71, quote.ChangePercent, 0.0001)
	require.InEpsilon(t, 190.12, quote.High, 0.0001)
	require.InEpsilon(t, 187.9, quote.Low, 0.0001)
	require.InEpsilon(t, 188.2, quote.Open, 0.0001)
	require.InEpsilon(t, 188.5, quote.PreviousClose, 0.0001)
	require.Equal(t, int64(51234567), quote.Volume)
	require.Equal(t, int64(1716555600000), quote.Timestamp)
}

func TestQuote_SecondsTimestamp(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client answering with a seconds epoch
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(map[string]any{
				"symbol": "AAPL", "price": 189.84, "timestamp": 1716555600,
			}))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buffer)}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Quote
	quote, err := client.Quote(t.Context(), "AAPL")
	require.NoError(t, err)

	// Assert: the epoch should be normalized to milliseconds
	require.Equal(t, int64(1716555600000), quote.Timestamp)
}

func TestQuote_NotFoundOnZeroPrice(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client answering with an all-zero quote
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(map[string]any{"price": 0}))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buffer)}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Quote for a symbol the provider does not know
	quote, err := client.Quote(t.Context(), "BOGUS")

	// Assert: an empty quote is not found, never a zero-priced quote
	require.ErrorIs(t, err, provider.ErrNotFound)
	require.Nil(t, quote)
}

func TestQuote_RateLimitedStatus(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client answering 429
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusTooManyRequests,
				Body:       io.NopCloser(bytes.NewReader([]byte{})),
			}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Quote
	quote, err := client.Quote(t.Context(), "AAPL")

	// Assert: the throttle surfaces as the retryable kind
	require.ErrorIs(t, err, provider.ErrRateLimited)
	require.True(t, provider.IsRetryable(err))
	require.Nil(t, quote)
}

func TestQuote_RateLimitedInBody(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client embedding the throttle in a 200 body
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(map[string]any{
				"error": "API limit reached. Please try again later.",
			}))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buffer)}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Quote
	quote, err := client.Quote(t.Context(), "AAPL")

	// Assert: the embedded message classifies as rate limited
	require.ErrorIs(t, err, provider.ErrRateLimited)
	require.Nil(t, quote)
}

func TestQuote_ErrCreatingRequest(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Assert: the HTTP client is never reached
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Times(0)

	// Arrange: setup a client whose base URL cannot form a request
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient), finnhub.WithBaseURL(string([]rune{0x7f})))
	require.NoError(t, err)

	// Act: call Quote
	quote, err := client.Quote(t.Context(), "AAPL")
	require.Error(t, err)
	require.Nil(t, quote)
}

func TestQuote_ErrPerformingRequest(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client that fails at transport level
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return nil, fmt.Errorf("error")
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Quote
	quote, err := client.Quote(t.Context(), "AAPL")

	// Assert: transport failures classify as unavailable
	require.ErrorIs(t, err, provider.ErrUnavailable)
	require.Nil(t, quote)
}

func TestQuote_ErrDecodingResponse(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client answering garbage
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			buffer := &bytes.Buffer{}
			buffer.WriteString("invalid json")

			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(buffer),
			}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Quote
	quote, err := client.Quote(t.Context(), "AAPL")

	// Assert: malformed bodies classify as unavailable
	require.ErrorIs(t, err, provider.ErrUnavailable)
	require.Nil(t, quote)
}

// mockQuoteResponse is a mock quote payload from the provider.
var mockQuoteResponse = map[string]any{
	"symbol":        "AAPL",
	"price":         189.84,
	"change":        1.34,
	"changePercent": 0.71,
	"high":          190.12,
	"low":           187.9,
	"open":          188.2,
	"previousClose": 188.5,
	"volume":        51234567,
	"timestamp":     1716555600000,
}
