package quotes

import (
	"context"
	"strings"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// Search looks up symbols matching query. Results are cached per
// lowercased query. A nil result with a nil error means the search was
// not servable; an empty query short-circuits to an empty result.
func (s *Service) Search(ctx context.Context, query string) (*provider.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return &provider.SearchResult{Result: []provider.SymbolMatch{}}, nil
	}
	if s.provider == nil {
		return nil, s.errNotConfigured()
	}

	key := TypeSearch.Key(strings.ToLower(q))
	if r, ok := cache.GetAs[*provider.SearchResult](ctx, s.cache, key, TypeSearch); ok {
		return r, nil
	}
	return s.fetchSearch(ctx, q)
}

func (s *Service) fetchSearch(ctx context.Context, query string) (*provider.SearchResult, error) {
	var result *provider.SearchResult
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.provider.Search(ctx, query)
		return err
	})
	if err == nil {
		s.cache.Set(ctx, TypeSearch.Key(strings.ToLower(query)), result, TypeSearch)
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.log.Warn("symbol search failed", "query", query, "err", err)
	return nil, nil
}
