package quotes

import (
	"encoding/json"
	"time"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// Cache namespaces used by the service. Quotes churn too fast to be worth
// persisting; profiles and search results survive restarts through the
// durable tier.
var (
	TypeQuote = &cache.DataType{
		Name:         "quote",
		TTL:          30 * time.Second,
		RefreshAfter: 20 * time.Second,
	}

	TypeProfile = &cache.DataType{
		Name:    "profile",
		TTL:     24 * time.Hour,
		Durable: true,
		Decode:  decodeInto[provider.CompanyProfile],
	}

	TypeSearch = &cache.DataType{
		Name:    "search",
		TTL:     time.Hour,
		Durable: true,
		Decode:  decodeInto[provider.SearchResult],
	}
)

func decodeInto[T any](data []byte) (any, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}
