package finnhub_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"quotefeed/internal/provider"
	finnhub "quotefeed/internal/provider/finnhub"
)

func TestProfile(t *testing.T) {
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
			require.Equal(t, "/api/profile/AAPL", req.URL.Path)
			require.Equal(t, "test-key", req.URL.Query().Get("token"))

			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(mockProfileResponse))

			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(buffer),
			}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "test-key", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Profile
	profile, err := client.Profile(t.Context(), "aapl")
	require.NoError(t, err)
	require.NotNil(t, profile)

	// Assert: the profile should be mapped into the canonical shape
	require.Equal(t, "Apple Inc", profile.Name)
	require.Equal(t, "AAPL", profile.Ticker)
	require.Equal(t, "NASDAQ NMS - GLOBAL MARKET", profile.Exchange)
	require.Equal(t, "US", profile.Country)
	require.Equal(t, "USD", profile.Currency)
	require.Equal(t, "Technology", profile.Industry)
	require.Equal(t, "1980-12-12", profile.IPO)
	require.InEpsilon(t, 2905356.15, profile.MarketCap, 0.0001)
	require.InEpsilon(t, 15334.08, profile.SharesOutstanding, 0.0001)
	require.Equal(t, "https://static.finnhub.io/logo/apple.png", profile.Logo)
	require.Equal(t, "https://www.apple.com/", profile.WebURL)
}

func TestProfile_NotFoundOnEmptyObject(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: the provider answers an unknown symbol with an empty object
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			buffer := &bytes.Buffer{}
			require.NoError(t, json.NewEncoder(buffer).Encode(map[string]any{}))
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(buffer)}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Profile
	profile, err := client.Profile(t.Context(), "BOGUS")
	require.ErrorIs(t, err, provider.ErrNotFound)
	require.Nil(t, profile)
}

func TestProfile_NotFoundStatus(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: the provider answers 404
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusNotFound,
				Body:       io.NopCloser(bytes.NewReader([]byte{})),
			}, nil
		}).
		Times(1)

	// Arrange: setup a new client
	client, err := finnhub.New("https://quotes.example.com/api", "", finnhub.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Profile
	profile, err := client.Profile(t.Context(), "BOGUS")
	require.ErrorIs(t, err, provider.ErrNotFound)
	require.Nil(t, profile)
}

// mockProfileResponse is a mock company profile payload from the provider.
var mockProfileResponse = map[string]any{
	"name":                 "Apple Inc",
	"ticker":               "AAPL",
	"exchange":             "NASDAQ NMS - GLOBAL MARKET",
	"country":              "US",
	"currency":             "USD",
	"finnhubIndustry":      "Technology",
	"ipo":                  "1980-12-12",
	"marketCapitalization": 2905356.15,
	"shareOutstanding":     15334.08,
	"logo":                 "https://static.finnhub.io/logo/apple.png",
	"weburl":               "https://www.apple.com/",
}
