package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"quotefeed/internal/provider"
)

// quotePayload is the wire shape of a single quote response. Numeric fields
// are pointers so an absent field can be told apart from a zero.
type quotePayload struct {
	Symbol        string   `json:"symbol"`
	Price         *float64 `json:"price"`
	Change        *float64 `json:"change"`
	ChangePercent *float64 `json:"changePercent"`
	High          *float64 `json:"high"`
	Low           *float64 `json:"low"`
	Open          *float64 `json:"open"`
	PreviousClose *float64 `json:"previousClose"`
	Volume        *int64   `json:"volume"`
	Timestamp     *int64   `json:"timestamp"`
	Error         string   `json:"error"`
}

// Quote retrieves the current quote for one symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*provider.Quote, error) {
	symbol = provider.NormalizeSymbol(symbol)

	requestURL := fmt.Sprintf("%s/quote/%s", c.baseURL, url.PathEscape(symbol))
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

	var payload quotePayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding quote response: %v", provider.ErrUnavailable, err)
	}
	return mapQuote(symbol, &payload)
}

// mapQuote converts the wire payload to the canonical Quote. A payload with
// no usable price means the provider does not know the symbol; that is
// reported as not found, never as a zero-priced quote.
func mapQuote(symbol string, p *quotePayload) (*provider.Quote, error) {
	if p.Error != "" {
		return nil, classifyError(p.Error)
	}
	if p.Symbol != "" {
		symbol = provider.NormalizeSymbol(p.Symbol)
	}
	if p.Price == nil || *p.Price == 0 {
		return nil, fmt.Errorf("%w: %s", provider.ErrNotFound, symbol)
	}
	return &provider.Quote{
		Symbol:        symbol,
		Price:         *p.Price,
		Change:        deref(p.Change),
		ChangePercent: deref(p.ChangePercent),
		High:          deref(p.High),
		Low:           deref(p.Low),
		Open:          deref(p.Open),
		PreviousClose: deref(p.PreviousClose),
		Volume:        deref(p.Volume),
		Timestamp:     epochMillis(deref(p.Timestamp), time.Now()),
	}, nil
}

// epochMillis normalizes an epoch value that may arrive in seconds or in
// milliseconds, falling back when the upstream omits it.
func epochMillis(v int64, fallback time.Time) int64 {
	if v <= 0 {
		return fallback.UnixMilli()
	}
	if v < 1_000_000_000_000 { // seconds
		return v * 1000
	}
	return v
}
