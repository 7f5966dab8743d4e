package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chris/cash-settlement/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Deduper remembers which (transaction, status) pairs were already notified.
type Deduper interface {
	// Claim reports true the first time a pair is claimed.
	Claim(ctx context.Context, txID string, status models.TransactionStatus) (bool, error)
	// Release forgets a claim so a failed send can be retried.
	Release(ctx context.Context, txID string, status models.TransactionStatus) error
}

// DefaultDedupeTTL bounds how long a claim is remembered.
const DefaultDedupeTTL = 7 * 24 * time.Hour

func dedupeKey(txID string, status models.TransactionStatus) string {
	return fmt.Sprintf("notify:%s:%s", txID, status)
}

// RedisDeduper claims pairs with SETNX.
type RedisDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisDeduper creates a RedisDeduper. A zero ttl uses DefaultDedupeTTL.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, txID string, status models.TransactionStatus) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKey(txID, status), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduper) Release(ctx context.Context, txID string, status models.TransactionStatus) error {
	return d.client.Del(ctx, dedupeKey(txID, status)).Err()
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) Claim(_ context.Context, txID string, status models.TransactionStatus) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := dedupeKey(txID, status)
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, txID string, status models.TransactionStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupeKey(txID, status))
	return nil
}
