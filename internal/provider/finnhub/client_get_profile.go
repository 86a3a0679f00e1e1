package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"quotefeed/internal/provider"
)

// profilePayload is the wire shape of a company profile response.
type profilePayload struct {
	Name              string  `json:"name"`
	Ticker            string  `json:"ticker"`
	Exchange          string  `json:"exchange"`
	Country           string  `json:"country"`
	Currency          string  `json:"currency"`
	Industry          string  `json:"finnhubIndustry"`
	IPO               string  `json:"ipo"`
	MarketCap         float64 `json:"marketCapitalization"`
	SharesOutstanding float64 `json:"shareOutstanding"`
	Logo              string  `json:"logo"`
	WebURL            string  `json:"weburl"`
	Error             string  `json:"error"`
}

// Profile retrieves the company profile for one symbol. The provider
// answers an unknown symbol with an empty object, which is reported as not
// found.
func (c *Client) Profile(ctx context.Context, symbol string) (*provider.CompanyProfile, error) {
	symbol = provider.NormalizeSymbol(symbol)

	requestURL := fmt.Sprintf("%s/profile/%s", c.baseURL, url.PathEscape(symbol))
	if len(c.query) > 0 {
		requestURL = fmt.Sprintf("%s?%s", requestURL, c.query.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: performing request: %v", provider.ErrUnavailable, err)
	}
	defer res.Body.Close()

	if err := checkStatus(res.StatusCode); err != nil {
		return nil, err
	}

	var payload profilePayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding profile response: %v", provider.ErrUnavailable, err)
	}
	if payload.Error != "" {
		return nil, classifyError(payload.Error)
	}
	if payload.Name == "" && payload.Ticker == "" {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, symbol)
	}

	ticker := payload.Ticker
	if ticker == "" {
		ticker = symbol
	}
	return &provider.CompanyProfile{
		Name:              payload.Name,
		Ticker:            provider.NormalizeSymbol(ticker),
		Exchange:          payload.Exchange,
		Country:           payload.Country,
		Currency:          payload.Currency,
		Industry:          payload.Industry,
		IPO:               payload.IPO,
		MarketCap:         payload.MarketCap,
		SharesOutstanding: payload.SharesOutstanding,
		Logo:              payload.Logo,
		WebURL:            payload.WebURL,
	}, nil
}
