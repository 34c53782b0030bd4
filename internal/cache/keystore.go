package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyStore is a shared set of keys with TTL expiry. Every worker and API
// instance pointed at the same backend observes the same keys.
type KeyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, ttl time.Duration) error
	// SetIfAbsent stores key with value only when it does not exist yet and
	// reports whether this call created it.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfValue removes key only while it still holds value.
	DeleteIfValue(ctx context.Context, key, value string) (bool, error)
}

var deleteIfValueScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisKeyStore struct {
	client *redis.Client
	prefix string
}

func NewRedisKeyStore(client *redis.Client, prefix string) *RedisKeyStore {
	if prefix == "" {
		prefix = "docpipe:key:"
	}
	return &RedisKeyStore{client: client, prefix: prefix}
}

func (s *RedisKeyStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return count > 0, nil
}

func (s *RedisKeyStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisKeyStore) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return created, nil
}

func (s *RedisKeyStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *RedisKeyStore) DeleteIfValue(ctx context.Context, key, value string) (bool, error) {
	deleted, err := deleteIfValueScript.Run(ctx, s.client, []string{s.prefix + key}, value).Int()
	if err != nil {
		return false, fmt.Errorf("redis compare and delete: %w", err)
	}
	return deleted > 0, nil
}

// MemoryKeyStore is the single-process fallback used when Redis is absent.
type MemoryKeyStore struct {
	mu   sync.Mutex
	keys map[string]memoryKey
	now  func() time.Time
}

type memoryKey struct {
	value     string
	expiresAt time.Time
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		keys: make(map[string]memoryKey),
		now:  time.Now,
	}
}

func (s *MemoryKeyStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key), nil
}

func (s *MemoryKeyStore) Set(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = memoryKey{value: "1", expiresAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryKeyStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveLocked(key) {
		return false, nil
	}
	s.keys[key] = memoryKey{value: value, expiresAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryKeyStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryKeyStore) DeleteIfValue(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.liveLocked(key) || s.keys[key].value != value {
		return false, nil
	}
	delete(s.keys, key)
	return true, nil
}

func (s *MemoryKeyStore) liveLocked(key string) bool {
	entry, ok := s.keys[key]
	if !ok {
		return false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.keys, key)
		return false
	}
	return true
}

// zero ttl means no expiry, matching redis SET without EX.
func (s *MemoryKeyStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
