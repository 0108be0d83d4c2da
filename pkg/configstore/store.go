package configstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// KV is the persistence backend for settings. Implemented by the SQLite
// store.
type KV interface {
	SetSetting(ctx context.Context, key, value string) error
	GetSetting(ctx context.Context, key string) (string, error)
	AllSettings(ctx context.Context) (map[string]string, error)
	DeleteSetting(ctx context.Context, key string) error
}

// cacheEntry is a cached settings snapshot with expiration.
type cacheEntry struct {
	value     *Settings
	expiresAt time.Time
}

func (e *cacheEntry) expired() bool {
	return time.Now().After(e.expiresAt)
}

// CacheStats tracks cache performance.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Store serves deployment settings with a TTL read cache over the KV
// backend. Writes go through to the backend and refresh the cache in the
// same call, so a read issued after a successful write never observes the
// stale snapshot.
type Store struct {
	kv  KV
	ttl time.Duration

	mu    sync.RWMutex
	entry *cacheEntry

	statsMu sync.Mutex
	stats   CacheStats

	// onHit and onMiss bridge cache activity into the metrics registry.
	onHit  func()
	onMiss func()
}

// Option configures a Store.
type Option func(*Store)

// WithCacheObservers wires cache hit/miss callbacks, used for metrics.
func WithCacheObservers(onHit, onMiss func()) Option {
	return func(s *Store) {
		s.onHit = onHit
		s.onMiss = onMiss
	}
}

// NewStore creates a settings store. A non-positive TTL falls back to the
// 30 second default.
func NewStore(kv KV, ttl time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	s := &Store{kv: kv, ttl: ttl}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the current settings snapshot, from cache when fresh.
func (s *Store) Load(ctx context.Context) (*Settings, error) {
	s.mu.RLock()
	entry := s.entry
	s.mu.RUnlock()

	if entry != nil && !entry.expired() {
		s.recordHit()
		return entry.value, nil
	}
	s.recordMiss()

	all, err := s.kv.AllSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings := settingsFromMap(all)

	s.mu.Lock()
	s.entry = &cacheEntry{value: settings, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return settings, nil
}

// Save validates and persists a full settings snapshot, then refreshes the
// cache with the written values.
func (s *Store) Save(ctx context.Context, settings *Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	for key, value := range settings.toMap() {
		if err := s.kv.SetSetting(ctx, key, value); err != nil {
			// Partial writes leave the cache unusable.
			s.Invalidate()
			return fmt.Errorf("save setting %s: %w", key, err)
		}
	}

	s.mu.Lock()
	s.entry = &cacheEntry{value: settings, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return nil
}

// Set persists a single setting and invalidates the cached snapshot.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.kv.SetSetting(ctx, key, value); err != nil {
		return fmt.Errorf("save setting %s: %w", key, err)
	}
	s.Invalidate()
	return nil
}

// Invalidate drops the cached snapshot; the next Load hits the backend.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.Evictions++
	s.statsMu.Unlock()
}

// Stats returns a copy of the cache statistics.
func (s *Store) Stats() CacheStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// HitRate returns the cache hit rate as a percentage.
func (s *Store) HitRate() float64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	total := s.stats.Hits + s.stats.Misses
	if total == 0 {
		return 0
	}
	return float64(s.stats.Hits) / float64(total) * 100
}

func (s *Store) recordHit() {
	s.statsMu.Lock()
	s.stats.Hits++
	s.statsMu.Unlock()
	if s.onHit != nil {
		s.onHit()
	}
}

func (s *Store) recordMiss() {
	s.statsMu.Lock()
	s.stats.Misses++
	s.statsMu.Unlock()
	if s.onMiss != nil {
		s.onMiss()
	}
}
