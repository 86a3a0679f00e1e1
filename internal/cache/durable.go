package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"quotefeed/internal/kvstore"
)

// envelope wraps a durable payload with its write time so the secondary
// tier can age entries without understanding them.
type envelope struct {
	WrittenAt time.Time       `json:"writtenAt"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Store) persist(ctx context.Context, key string, data any, now time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	raw, err := json.Marshal(envelope{WrittenAt: now, Payload: payload})
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := s.opts.Durable.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return s.trimDurable(ctx)
}

// promote revives a durable entry into the memory tier. Expired or
// unreadable entries are deleted on the way out.
func (s *Store) promote(ctx context.Context, key string, typ *DataType, now time.Time) (any, bool) {
	raw, err := s.opts.Durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			s.log.Warn("cache: durable read failed", "key", key, "err", err)
		}
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.log.Warn("cache: dropping undecodable durable entry", "key", key, "err", err)
		_ = s.opts.Durable.Delete(ctx, key)
		return nil, false
	}
	if now.Sub(env.WrittenAt) >= typ.TTL {
		_ = s.opts.Durable.Delete(ctx, key)
		return nil, false
	}
	if typ.Decode == nil {
		return nil, false
	}
	data, err := typ.Decode(env.Payload)
	if err != nil {
		s.log.Warn("cache: dropping undecodable durable entry", "key", key, "err", err)
		_ = s.opts.Durable.Delete(ctx, key)
		return nil, false
	}

	s.mu.Lock()
	s.entries[key] = &entry{
		data:           data,
		typ:            typ,
		writtenAt:      env.WrittenAt,
		lastAccessedAt: now,
		accessCount:    1,
		stale:          false,
	}
	s.stats.Promotions++
	s.stats.Hits++
	age := now.Sub(env.WrittenAt)
	if typ.RefreshAfter > 0 && age >= typ.RefreshAfter {
		s.scheduleRefreshLocked(key, typ)
	}
	s.evictLocked(now)
	s.mu.Unlock()

	return data, true
}

// trimDurable drops the oldest-written durable entries once the tier is
// over its limit. The scan reads every envelope, which is fine for the
// small caps this tier runs with.
func (s *Store) trimDurable(ctx context.Context) error {
	keys, err := s.opts.Durable.Keys(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}
	over := len(keys) - s.opts.MaxDurableEntries
	if over <= 0 {
		return nil
	}

	type aged struct {
		key       string
		writtenAt time.Time
	}
	ranked := make([]aged, 0, len(keys))
	for _, key := range keys {
		raw, err := s.opts.Durable.Get(ctx, key)
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Unreadable entries are the first to go.
			ranked = append(ranked, aged{key: key})
			continue
		}
		ranked = append(ranked, aged{key: key, writtenAt: env.WrittenAt})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].writtenAt.Equal(ranked[j].writtenAt) {
			return ranked[i].key < ranked[j].key
		}
		return ranked[i].writtenAt.Before(ranked[j].writtenAt)
	})
	for i := 0; i < len(ranked) && over > 0; i++ {
		if err := s.opts.Durable.Delete(ctx, ranked[i].key); err != nil {
			s.log.Warn("cache: durable trim failed", "key", ranked[i].key, "err", err)
			continue
		}
		over--
	}
	return nil
}
