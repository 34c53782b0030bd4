// Package cache holds the fast-path document cache and the shared TTL key store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/redis/go-redis/v9"
)

// StatusCache fronts recent document lookups. Misses and errors both fall back
// to the store, so implementations never fail a read.
type StatusCache interface {
	Get(ctx context.Context, documentID string) (*domain.Document, bool)
	Set(ctx context.Context, doc *domain.Document) error
	Invalidate(ctx context.Context, documentID string) error
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type memoryEntry struct {
	doc       *domain.Document
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStatusCache is a process-local TTL cache with oldest-first eviction.
type MemoryStatusCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewMemoryStatusCache(config Config) *MemoryStatusCache {
	if config.TTL <= 0 {
		config.TTL = 30 * time.Second
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 5000
	}
	return &MemoryStatusCache{
		entries:    make(map[string]memoryEntry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryStatusCache) Get(_ context.Context, documentID string) (*domain.Document, bool) {
	c.mu.RLock()
	entry, exists := c.entries[documentID]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, documentID)
		c.mu.Unlock()
		return nil, false
	}
	return entry.doc.Clone(), true
}

// Set keeps the newer of the cached and the given snapshot; an older status
// never replaces a live entry.
func (c *MemoryStatusCache) Set(_ context.Context, doc *domain.Document) error {
	if doc == nil {
		return nil
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.entries[doc.ID]
	if exists && !now.After(current.expiresAt) && !doc.Status.Supersedes(current.doc.Status) {
		return nil
	}
	if !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[doc.ID] = memoryEntry{
		doc:       doc.Clone(),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	return nil
}

func (c *MemoryStatusCache) Invalidate(_ context.Context, documentID string) error {
	c.mu.Lock()
	delete(c.entries, documentID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryStatusCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryStatusCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value memoryEntry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.createdAt.Before(pairs[j].value.createdAt)
	})
	delete(c.entries, pairs[0].key)
}

// maxWatchAttempts bounds optimistic retries when writers race on one key.
const maxWatchAttempts = 16

// RedisStatusCache keeps document snapshots as JSON under doc:<id> with a TTL.
// Writes go through WATCH so a stale snapshot never replaces a newer one.
type RedisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStatusCache{client: client, prefix: "docpipe:doc:", ttl: ttl}
}

func (c *RedisStatusCache) Get(ctx context.Context, documentID string) (*domain.Document, bool) {
	raw, err := c.client.Get(ctx, c.prefix+documentID).Bytes()
	if err != nil {
		return nil, false
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (c *RedisStatusCache) Set(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return nil
	}
	encoded, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	key := c.prefix + doc.ID
	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		err = c.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				current, decodeErr := decodeDocument(raw)
				if decodeErr == nil && !doc.Status.Supersedes(current.Status) {
					return nil
				}
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, c.ttl)
				return nil
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("redis set document: %w", err)
	}
	return nil
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, documentID string) error {
	if err := c.client.Del(ctx, c.prefix+documentID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis delete document: %w", err)
	}
	return nil
}

type cachedDocument struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	DisplayName   string    `json:"display_name"`
	FileType      string    `json:"file_type"`
	Status        string    `json:"status"`
	ExtractedText string    `json:"extracted_text"`
	Summary       string    `json:"summary,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	SourceURI     string    `json:"source_uri,omitempty"`
	PageCount     int       `json:"page_count"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func encodeDocument(doc *domain.Document) ([]byte, error) {
	encoded, err := json.Marshal(cachedDocument{
		ID:            doc.ID,
		OwnerID:       doc.OwnerID,
		DisplayName:   doc.DisplayName,
		FileType:      string(doc.FileType),
		Status:        string(doc.Status),
		ExtractedText: doc.ExtractedText,
		Summary:       doc.Summary,
		ErrorMessage:  doc.ErrorMessage,
		SourceURI:     doc.SourceURI,
		PageCount:     doc.PageCount,
		SizeBytes:     doc.SizeBytes,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cached document: %w", err)
	}
	return encoded, nil
}

func decodeDocument(raw []byte) (*domain.Document, error) {
	var cached cachedDocument
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("decode cached document: %w", err)
	}
	return &domain.Document{
		ID:            cached.ID,
		OwnerID:       cached.OwnerID,
		DisplayName:   cached.DisplayName,
		FileType:      domain.FileType(cached.FileType),
		Status:        domain.DocumentStatus(cached.Status),
		ExtractedText: cached.ExtractedText,
		Summary:       cached.Summary,
		ErrorMessage:  cached.ErrorMessage,
		SourceURI:     cached.SourceURI,
		PageCount:     cached.PageCount,
		SizeBytes:     cached.SizeBytes,
		CreatedAt:     cached.CreatedAt,
		UpdatedAt:     cached.UpdatedAt,
	}, nil
}
