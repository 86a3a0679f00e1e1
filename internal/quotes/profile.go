package quotes

import (
	"context"
	"errors"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
)

// CompanyProfile returns static company data for symbol. Profiles barely
// change, so they live in the durable cache tier and survive restarts. A
// nil profile with a nil error means the profile is unobtainable.
func (s *Service) CompanyProfile(ctx context.Context, symbol string) (*provider.CompanyProfile, error) {
	sym := provider.NormalizeSymbol(symbol)
	if sym == "" {
		return nil, nil
	}
	if s.provider == nil {
		return nil, s.errNotConfigured()
	}

	key := TypeProfile.Key(sym)
	if p, ok := cache.GetAs[*provider.CompanyProfile](ctx, s.cache, key, TypeProfile); ok {
		return p, nil
	}
	return s.fetchProfile(ctx, sym)
}

func (s *Service) fetchProfile(ctx context.Context, sym string) (*provider.CompanyProfile, error) {
	var profile *provider.CompanyProfile
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		profile, err = s.provider.Profile(ctx, sym)
		return err
	})
	if err == nil {
		s.cache.Set(ctx, TypeProfile.Key(sym), profile, TypeProfile)
		return profile, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if errors.Is(err, provider.ErrNotFound) {
		s.log.Info("profile not found", "symbol", sym)
	} else {
		s.log.Warn("profile fetch failed", "symbol", sym, "err", err)
	}
	return nil, nil
}
