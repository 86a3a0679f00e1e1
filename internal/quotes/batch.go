package quotes

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// GetQuotes resolves many symbols at once. Cached symbols are served
// immediately; the rest go upstream as a single batch call when there are
// enough of them to be worth it. The result maps uppercased symbols to
// quotes and simply omits symbols for which nothing was obtainable. The
// error is non-nil only when no provider is configured or ctx ends.
func (s *Service) GetQuotes(ctx context.Context, symbols []string) (map[string]*provider.Quote, error) {
	var order []string
	seen := make(map[string]struct{}, len(symbols))
	for _, raw := range symbols {
		sym := provider.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		order = append(order, sym)
	}

	result := make(map[string]*provider.Quote, len(order))
	if len(order) == 0 {
		return result, nil
	}
	if s.provider == nil {
		return nil, s.errNotConfigured()
	}

	var uncached []string
	for _, sym := range order {
		if q, ok := cache.GetAs[*provider.Quote](ctx, s.cache, TypeQuote.Key(sym), TypeQuote); ok {
			result[sym] = q
			continue
		}
		uncached = append(uncached, sym)
	}
	if len(uncached) == 0 {
		return result, nil
	}

	// A lone uncached symbol is not worth a batch round trip.
	if len(uncached) < s.batchThreshold {
		for _, sym := range uncached {
			q, err := s.getQuote(ctx, sym, false)
			if err != nil {
				return nil, err
			}
			if q != nil {
				result[sym] = q
			}
		}
		return result, nil
	}

	fetched, err := s.fetchBatch(ctx, uncached)
	if err != nil {
		return nil, err
	}
	for sym, q := range fetched {
		result[sym] = q
	}
	return result, nil
}

// fetchBatch issues one rate-limited call for all symbols. Per-symbol
// provider errors are isolated; only an outright batch failure falls
// back to staggered single fetches.
func (s *Service) fetchBatch(ctx context.Context, symbols []string) (map[string]*provider.Quote, error) {
	var items map[string]provider.BatchItem
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		items, err = s.provider.Quotes(ctx, symbols)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("batch quote fetch failed, falling back to single fetches",
			"symbols", len(symbols), "err", err)
		return s.fallbackSingles(ctx, symbols)
	}

	out := make(map[string]*provider.Quote, len(symbols))
	for _, sym := range symbols {
		item, ok := items[sym]
		if !ok || item.Quote == nil {
			if item.Err != nil {
				s.log.Info("batch quote skipped", "symbol", sym, "err", item.Err)
			}
			continue
		}
		s.cache.Set(ctx, TypeQuote.Key(sym), item.Quote, TypeQuote)
		out[sym] = item.Quote
	}
	return out, nil
}

// fallbackSingles fetches each symbol individually, staggering dispatches
// so the burst does not pile up in the limiter's queue all at once.
func (s *Service) fallbackSingles(ctx context.Context, symbols []string) (map[string]*provider.Quote, error) {
	out := make(map[string]*provider.Quote, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range symbols {
		delay := time.Duration(i) * s.staggerDelay
		g.Go(func() error {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			q, err := s.getQuote(gctx, sym, false)
			if err != nil {
				return err
			}
			if q != nil {
				mu.Lock()
				out[sym] = q
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
