package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mbtc-bridge/oft_service/internal/infrastructure/cache"
)

// Record is the stored outcome of a request made with an idempotency key
type Record struct {
	Key         string          `json:"key"`
	RequestHash string          `json:"request_hash"`
	Pending     bool            `json:"pending"`
	Status      int             `json:"status,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Store keeps idempotency records
type Store interface {
	// Reserve claims key for a new request. It returns nil when the claim
	// succeeded, or the record already held under key.
	Reserve(ctx context.Context, rec *Record, ttl time.Duration) (*Record, error)
	// Complete stores the final response
	Complete(ctx context.Context, rec *Record, ttl time.Duration) error
	// Release drops a claim so the request can be retried
	Release(ctx context.Context, key string) error
}

// RedisStore keeps records in Redis so every replica sees them
type RedisStore struct {
	client cache.RedisClient
	prefix string
}

func NewRedisStore(client cache.RedisClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Reserve(ctx context.Context, rec *Record, ttl time.Duration) (*Record, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+rec.Key, string(data), ttl)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	var existing Record
	if err := s.client.Get(ctx, s.prefix+rec.Key, &existing); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			// expired between SETNX and GET
			return s.Reserve(ctx, rec, ttl)
		}
		return nil, err
	}
	return &existing, nil
}

func (s *RedisStore) Complete(ctx context.Context, rec *Record, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+rec.Key, rec, ttl)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key)
}

// MemoryStore keeps records in process, for single-replica deployments
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, rec *Record, ttl time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.records[rec.Key]; ok && now.Before(e.expiresAt) {
		existing := e.rec
		return &existing, nil
	}
	s.records[rec.Key] = memoryEntry{rec: *rec, expiresAt: now.Add(ttl)}
	s.evictExpired(now)
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, rec *Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.Key] = memoryEntry{rec: *rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) evictExpired(now time.Time) {
	for k, e := range s.records {
		if !now.Before(e.expiresAt) {
			delete(s.records, k)
		}
	}
}
