// Package session persists per-user list state: filter values and free-text
// search under a per-entity session key, and the preferred page size in a
// long-lived cookie. Stores come in a memory flavor for tests and single
// instances and a Redis flavor for multi-instance deployments.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists JSON-shaped values keyed by session id and entry key.
type Store interface {
	// Get returns the stored values for the key, reporting existence.
	Get(ctx context.Context, sessionID, key string) (map[string]any, bool, error)

	// Put stores values under the key with a TTL. A zero TTL means the
	// entry lives as long as the store does.
	Put(ctx context.Context, sessionID, key string, values map[string]any, ttl time.Duration) error

	// Delete removes the entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, sessionID, key string) error
}

func storeKey(sessionID, key string) string {
	return fmt.Sprintf("session:%s:%s", sessionID, key)
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	values    map[string]any
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memEntry)}
}

func (s *MemoryStore) Get(_ context.Context, sessionID, key string) (map[string]any, bool, error) {
	k := storeKey(sessionID, key)

	s.mu.RLock()
	entry, exists := s.entries[k]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, k)
		s.mu.Unlock()
		return nil, false, nil
	}

	// Copy so callers cannot mutate the stored map.
	out := make(map[string]any, len(entry.values))
	for name, v := range entry.values {
		out[name] = v
	}
	return out, true, nil
}

func (s *MemoryStore) Put(_ context.Context, sessionID, key string, values map[string]any, ttl time.Duration) error {
	stored := make(map[string]any, len(values))
	for name, v := range values {
		stored[name] = v
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey(sessionID, key)] = &memEntry{values: stored, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey(sessionID, key))
	return nil
}

// Len returns the number of entries, including expired ones. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, sessionID, key string) (map[string]any, bool, error) {
	k := storeKey(sessionID, key)

	raw, err := s.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", k, err)
	}

	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, false, fmt.Errorf("unmarshal session entry %q: %w", k, err)
	}
	return values, true, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID, key string, values map[string]any, ttl time.Duration) error {
	k := storeKey(sessionID, key)

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal session entry: %w", err)
	}
	if err := s.client.Set(ctx, k, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", k, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID, key string) error {
	k := storeKey(sessionID, key)
	if err := s.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", k, err)
	}
	return nil
}
