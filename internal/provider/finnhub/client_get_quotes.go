package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"quotefeed/internal/provider"
)

// Quotes retrieves quotes for several symbols in one batch call. The
// response maps each symbol independently; a symbol the provider rejects
// yields its own error entry instead of failing the whole batch. Only an
// outright request failure returns a non-nil error.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]provider.BatchItem, error) {
	norm := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = provider.NormalizeSymbol(s); s != "" {
			norm = append(norm, s)
		}
	}
	if len(norm) == 0 {
		return map[string]provider.BatchItem{}, nil
	}

	query := c.queryClone()
	query.Add("symbols", strings.Join(norm, ","))

	requestURL := fmt.Sprintf("%s/quotes?%s", c.baseURL, query.Encode())
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

	var body map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding batch response: %v", provider.ErrUnavailable, err)
	}

	out := make(map[string]provider.BatchItem, len(body))
	for sym, raw := range body {
		sym = provider.NormalizeSymbol(sym)
		var payload quotePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			out[sym] = provider.BatchItem{Err: fmt.Errorf("%w: decoding %s: %v", provider.ErrUnavailable, sym, err)}
			continue
		}
		q, err := mapQuote(sym, &payload)
		if err != nil {
			out[sym] = provider.BatchItem{Err: err}
			continue
		}
		out[sym] = provider.BatchItem{Quote: q}
	}
	return out, nil
}
