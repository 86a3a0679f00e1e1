package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"quotefeed/internal/provider"
)

// searchPayload is the wire shape of a symbol search response.
type searchPayload struct {
	Count  int `json:"count"`
	Result []struct {
		Symbol        string `json:"symbol"`
		Description   string `json:"description"`
		DisplaySymbol string `json:"displaySymbol"`
		Type          string `json:"type"`
	} `json:"result"`
	Error string `json:"error"`
}

// Search looks up symbols matching a free-text query.
func (c *Client) Search(ctx context.Context, queryText string) (*provider.SearchResult, error) {
	query := c.queryClone()
	query.Add("q", queryText)

	requestURL := fmt.Sprintf("%s/search?%s", c.baseURL, query.Encode())
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

	var payload searchPayload
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %v", provider.ErrUnavailable, err)
	}
	if payload.Error != "" {
		return nil, classifyError(payload.Error)
	}

	result := &provider.SearchResult{
		Count:  payload.Count,
		Result: make([]provider.SymbolMatch, 0, len(payload.Result)),
	}
	for _, m := range payload.Result {
		result.Result = append(result.Result, provider.SymbolMatch{
			Symbol:        m.Symbol,
			Description:   m.Description,
			DisplaySymbol: m.DisplaySymbol,
			Type:          m.Type,
		})
	}
	if result.Count == 0 {
		result.Count = len(result.Result)
	}
	return result, nil
}
