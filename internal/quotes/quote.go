package quotes

import (
	"context"
	"errors"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// GetQuote returns the current quote for symbol, serving from cache when
// possible and joining any in-flight fetch for the same symbol. A nil
// quote with a nil error means the symbol is unobtainable right now,
// which is valid domain state, not a failure. The error is non-nil only
// when no provider is configured or ctx ends.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	return s.getQuote(ctx, symbol, false)
}

// RefreshQuote bypasses both the pending-request table and the cache
// read and always fetches. Background refreshes come through here.
func (s *Service) RefreshQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	return s.getQuote(ctx, symbol, true)
}

func (s *Service) getQuote(ctx context.Context, symbol string, force bool) (*provider.Quote, error) {
	sym := provider.NormalizeSymbol(symbol)
	if sym == "" {
		return nil, nil
	}
	if s.provider == nil {
		return nil, s.errNotConfigured()
	}
	key := TypeQuote.Key(sym)

	if !force {
		if f := s.pendingFlight(sym); f != nil {
			return awaitFlight(ctx, f)
		}
		// A stale hit is still a hit; the cache has already scheduled
		// its refresh.
		if q, ok := cache.GetAs[*provider.Quote](ctx, s.cache, key, TypeQuote); ok {
			return q, nil
		}
	}

	f, joined := s.registerFlight(sym, force)
	if joined {
		return awaitFlight(ctx, f)
	}
	defer func() {
		s.unregisterFlight(sym, f)
		close(f.done)
	}()

	f.quote, f.err = s.fetchQuote(ctx, sym, key)
	return f.quote, f.err
}

// fetchQuote performs the rate-limited upstream call and resolves its
// outcome: success caches and returns the quote, failure falls back to
// whatever is still cached and otherwise resolves to nil.
func (s *Service) fetchQuote(ctx context.Context, sym, key string) (*provider.Quote, error) {
	var quote *provider.Quote
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		quote, err = s.provider.Quote(ctx, sym)
		return err
	})
	if err == nil {
		s.cache.Set(ctx, key, quote, TypeQuote)
		return quote, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if errors.Is(err, provider.ErrNotFound) {
		s.log.Info("symbol not found", "symbol", sym)
	} else {
		s.log.Warn("quote fetch failed", "symbol", sym, "err", err)
	}
	if v, ok := s.cache.Peek(key); ok {
		if cached, ok := v.(*provider.Quote); ok {
			return cached, nil
		}
	}
	return nil, nil
}
