package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"quotefeed/internal/kvstore"
)

// DataType describes one logical namespace of cached values and its
// freshness rules.
type DataType struct {
	// Name prefixes every key of this type, e.g. "quote" -> "quote:AAPL".
	Name string
	// TTL is the age past which an entry is stale. Stale entries are still
	// served while a refresh is scheduled.
	TTL time.Duration
	// RefreshAfter, when positive and shorter than TTL, schedules a
	// refresh for entries older than this even though they are still
	// fresh.
	RefreshAfter time.Duration
	// Durable routes writes to the secondary store as well.
	Durable bool
	// Decode revives a durable payload into the type's in-memory shape.
	// Required for durable types.
	Decode func(data []byte) (any, error)
}

// Key builds the cache key for an identifier within this type's namespace.
func (t *DataType) Key(id string) string { return t.Name + ":" + id }

// ID extracts the identifier back out of one of this type's keys.
func (t *DataType) ID(key string) string { return strings.TrimPrefix(key, t.Name+":") }

// RefreshFunc is told that a key should be refetched soon. The cache never
// calls the network itself; the coordinator registers a handler and does
// the fetching through its own rate-limited path.
type RefreshFunc func(typ *DataType, id string)

// Options tune the store.
type Options struct {
	// MaxEntries bounds the in-memory tier. Defaults to 500.
	MaxEntries int
	// MaxDurableEntries bounds the secondary tier. Defaults to 100.
	MaxDurableEntries int
	// Durable is the secondary tier. Nil disables durability entirely.
	Durable kvstore.Store
	// RefreshDelay spaces the advisory refresh callback a little after the
	// read that triggered it. Defaults to 10ms.
	RefreshDelay time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries            int    `json:"entries"`
	Hits               uint64 `json:"hits"`
	Misses             uint64 `json:"misses"`
	StaleServes        uint64 `json:"staleServes"`
	Evictions          uint64 `json:"evictions"`
	Promotions         uint64 `json:"promotions"`
	RefreshesScheduled uint64 `json:"refreshesScheduled"`
}

type entry struct {
	data           any
	typ            *DataType
	writtenAt      time.Time
	lastAccessedAt time.Time
	accessCount    int
	stale          bool
}

// Store is a two-tier TTL cache. The memory tier serves everything,
// including stale entries while their refresh is pending; the optional
// durable tier holds slow-changing types across restarts.
type Store struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	timers  map[string]*time.Timer
	refresh RefreshFunc
	closed  bool
	stats   Stats

	// test seams
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New creates a store. The refresh handler starts out unset; reads that
// would schedule a refresh are simply served until one is registered.
func New(opts Options) *Store {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 500
	}
	if opts.MaxDurableEntries <= 0 {
		opts.MaxDurableEntries = 100
	}
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = 10 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		opts:      opts,
		log:       opts.Logger,
		entries:   make(map[string]*entry),
		timers:    make(map[string]*time.Timer),
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// OnRefresh registers the advisory refresh handler.
func (s *Store) OnRefresh(fn RefreshFunc) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

// Set writes a fresh entry. Durable types are additionally persisted to
// the secondary tier; persistence failures are logged, never surfaced,
// since the memory tier already holds the data.
func (s *Store) Set(ctx context.Context, key string, data any, typ *DataType) {
	now := s.now()

	s.mu.Lock()
	s.entries[key] = &entry{
		data:           data,
		typ:            typ,
		writtenAt:      now,
		lastAccessedAt: now,
		accessCount:    1,
		stale:          false,
	}
	s.evictLocked(now)
	s.mu.Unlock()

	if typ.Durable && s.opts.Durable != nil {
		if err := s.persist(ctx, key, data, now); err != nil {
			s.log.Warn("cache: durable write failed", "key", key, "err", err)
		}
	}
}

// Get returns the cached value for key, whether fresh or stale. A stale
// hit is still served, with a refresh scheduled in the background; only a
// full miss in both tiers returns false.
func (s *Store) Get(ctx context.Context, key string, typ *DataType) (any, bool) {
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		e.lastAccessedAt = now
		e.accessCount++
		age := now.Sub(e.writtenAt)
		if age >= typ.TTL {
			e.stale = true
			s.stats.StaleServes++
			s.scheduleRefreshLocked(key, typ)
		} else if typ.RefreshAfter > 0 && age >= typ.RefreshAfter {
			s.scheduleRefreshLocked(key, typ)
		}
		s.stats.Hits++
		data := e.data
		s.mu.Unlock()
		return data, true
	}
	s.stats.Misses++
	s.mu.Unlock()

	if !typ.Durable || s.opts.Durable == nil {
		return nil, false
	}
	return s.promote(ctx, key, typ, now)
}

// Peek returns the in-memory value for key without scheduling a refresh
// or counting a hit. The access still refreshes eviction metadata. Used
// as a last resort after a failed fetch, where Get's refresh scheduling
// would spin.
func (s *Store) Peek(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	e.lastAccessedAt = s.now()
	e.accessCount++
	return e.data, true
}

// IsStale reports whether key is cached but past its TTL.
func (s *Store) IsStale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	return e.stale || s.now().Sub(e.writtenAt) >= e.typ.TTL
}

// Delete drops key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.cancelTimerLocked(key)
	s.mu.Unlock()

	if s.opts.Durable != nil {
		if err := s.opts.Durable.Delete(ctx, key); err != nil {
			s.log.Warn("cache: durable delete failed", "key", key, "err", err)
		}
	}
}

// Clear empties both tiers and cancels every pending refresh timer. The
// store stays usable afterwards.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	if s.opts.Durable == nil {
		return
	}
	keys, err := s.opts.Durable.Keys(ctx)
	if err != nil {
		s.log.Warn("cache: durable clear failed", "err", err)
		return
	}
	for _, key := range keys {
		if err := s.opts.Durable.Delete(ctx, key); err != nil {
			s.log.Warn("cache: durable delete failed", "key", key, "err", err)
		}
	}
}

// Close cancels all timers and disables any future refresh scheduling.
// Idempotent. Cached data stays readable; teardown normally calls Clear
// first.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// Stats reports cache activity counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Entries = len(s.entries)
	return st
}

// GetAs is a typed convenience wrapper around Get.
func GetAs[T any](ctx context.Context, s *Store, key string, typ *DataType) (T, bool) {
	var zero T
	v, ok := s.Get(ctx, key, typ)
	if !ok {
		return zero, false
	}
	tv, ok := v.(T)
	if !ok {
		return zero, false
	}
	return tv, true
}

// scheduleRefreshLocked arms at most one advisory timer per key.
func (s *Store) scheduleRefreshLocked(key string, typ *DataType) {
	if s.closed || s.refresh == nil {
		return
	}
	if _, pending := s.timers[key]; pending {
		return
	}
	fn := s.refresh
	id := typ.ID(key)
	s.stats.RefreshesScheduled++
	s.timers[key] = s.afterFunc(s.opts.RefreshDelay, func() {
		s.mu.Lock()
		delete(s.timers, key)
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		fn(typ, id)
	})
}

func (s *Store) cancelTimerLocked(key string) {
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// evictLocked drops the lowest-value entries until the memory tier is back
// under its limit. Value is access count weighted by recency, so a busy
// but old entry can still lose to a quiet recent one.
func (s *Store) evictLocked(now time.Time) {
	if len(s.entries) <= s.opts.MaxEntries {
		return
	}
	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(s.entries))
	for key, e := range s.entries {
		idleMinutes := now.Sub(e.lastAccessedAt).Minutes()
		if idleMinutes < 0 {
			idleMinutes = 0
		}
		weight := 1.0 / (1.0 + idleMinutes)
		ranked = append(ranked, scored{key: key, score: float64(e.accessCount) * weight})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].key < ranked[j].key
		}
		return ranked[i].score < ranked[j].score
	})
	for _, r := range ranked {
		if len(s.entries) <= s.opts.MaxEntries {
			break
		}
		delete(s.entries, r.key)
		s.cancelTimerLocked(r.key)
		s.stats.Evictions++
	}
}
