package quotes

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quotefeed/internal/cache"
	"quotefeed/internal/provider"
	"quotefeed/internal/ratelimit"
)

// Streamer is the slice of the live stream the service tears down during
// Cleanup. Kept as an interface so the service does not depend on the
// stream package.
type Streamer interface {
	Disconnect()
}

// Config wires a Service together.
type Config struct {
	// Provider may be nil when no upstream is configured; every fetch
	// then fails fast with provider.ErrNotConfigured.
	Provider provider.Provider
	// Cache is required. The service registers itself as the cache's
	// refresh handler.
	Cache *cache.Store
	// Limiter is required. All upstream calls pass through it.
	Limiter *ratelimit.Limiter
	// Stream is optional and only used during Cleanup.
	Stream Streamer
	// BatchThreshold is the minimum number of uncached symbols that
	// justifies a batch request. Defaults to 2.
	BatchThreshold int
	// StaggerDelay spaces the individual fetches of a batch fallback.
	// Defaults to 200ms.
	StaggerDelay time.Duration
	// RefreshTimeout bounds each background refresh. Defaults to 15s.
	RefreshTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service is the single entry point for market data. It ties the cache,
// the pending-request table, and the rate limiter together so callers
// never talk to the provider directly.
type Service struct {
	provider provider.Provider
	cache    *cache.Store
	limiter  *ratelimit.Limiter
	stream   Streamer
	log      *slog.Logger

	batchThreshold int
	staggerDelay   time.Duration
	refreshTimeout time.Duration

	mu      sync.Mutex
	flights map[string]*flight

	baseCtx context.Context
	cancel  context.CancelFunc

	notConfiguredOnce sync.Once
	cleanupOnce       sync.Once
}

// flight is one outstanding upstream fetch that concurrent callers for
// the same symbol share.
type flight struct {
	done  chan struct{}
	quote *provider.Quote
	err   error
}

// New builds a Service and hooks it up as the cache's refresh handler.
func New(cfg Config) (*Service, error) {
	if cfg.Cache == nil {
		return nil, errors.New("quotes: cache is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("quotes: limiter is required")
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 2
	}
	if cfg.StaggerDelay <= 0 {
		cfg.StaggerDelay = 200 * time.Millisecond
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Service{
		provider:       cfg.Provider,
		cache:          cfg.Cache,
		limiter:        cfg.Limiter,
		stream:         cfg.Stream,
		log:            cfg.Logger,
		batchThreshold: cfg.BatchThreshold,
		staggerDelay:   cfg.StaggerDelay,
		refreshTimeout: cfg.RefreshTimeout,
		flights:        make(map[string]*flight),
	}
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	s.cache.OnRefresh(s.handleRefresh)
	return s, nil
}

// IsConfigured reports whether an upstream provider is wired in.
func (s *Service) IsConfigured() bool { return s.provider != nil }

// Cleanup tears the whole layer down: background refreshes stop, the
// stream closes, the limiter drains, and both cache tiers empty out. No
// upstream call originates from the service afterwards. Idempotent.
func (s *Service) Cleanup(ctx context.Context) {
	s.cleanupOnce.Do(func() {
		s.cancel()
		s.cache.Close()
		if s.stream != nil {
			s.stream.Disconnect()
		}
		s.limiter.Close()
		<-s.limiter.Done()
		s.cache.Clear(ctx)

		s.mu.Lock()
		s.flights = make(map[string]*flight)
		s.mu.Unlock()
	})
}

// handleRefresh services the cache's advisory refresh signals. Failures
// have no waiting caller, so they are logged inside the fetch paths and
// otherwise swallowed.
func (s *Service) handleRefresh(typ *cache.DataType, id string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.refreshTimeout)
	defer cancel()

	switch typ {
	case TypeQuote:
		_, _ = s.getQuote(ctx, id, true)
	case TypeSearch:
		_, _ = s.fetchSearch(ctx, id)
	case TypeProfile:
		_, _ = s.fetchProfile(ctx, id)
	}
}

func (s *Service) errNotConfigured() error {
	s.notConfiguredOnce.Do(func() {
		s.log.Warn("no provider configured, market data disabled")
	})
	return provider.ErrNotConfigured
}

// pendingFlight returns the in-flight fetch for sym, if any.
func (s *Service) pendingFlight(sym string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flights[sym]
}

// registerFlight installs a new flight for sym. Unless the caller forces
// a refresh, an already-registered flight wins and is returned with
// joined set.
func (s *Service) registerFlight(sym string, force bool) (f *flight, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !force {
		if existing := s.flights[sym]; existing != nil {
			return existing, true
		}
	}
	f = &flight{done: make(chan struct{})}
	s.flights[sym] = f
	return f, false
}

// unregisterFlight removes f from the table unless a forced refresh has
// already replaced it.
func (s *Service) unregisterFlight(sym string, f *flight) {
	s.mu.Lock()
	if s.flights[sym] == f {
		delete(s.flights, sym)
	}
	s.mu.Unlock()
}

func awaitFlight(ctx context.Context, f *flight) (*provider.Quote, error) {
	select {
	case <-f.done:
		return f.quote, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
