package selection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tracker remembers which prompts have already been answered. The first
// Claim for a key returns true; every later one returns false until the
// key is released.
type Tracker interface {
	Claim(ctx context.Context, key string) (bool, error)

	// Release undoes a Claim whose action failed, so the user can retry.
	Release(ctx context.Context, key string) error
}

// PromptKey identifies a prompt message. It doubles as the ledger
// idempotency key of the transaction the prompt completes.
func PromptKey(chatID int64, messageID int) string {
	return fmt.Sprintf("selection:%d:%d", chatID, messageID)
}

// =============================================================================
// MEMORY TRACKER - single process
// =============================================================================

type MemoryTracker struct {
	mu      sync.Mutex
	claimed map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{claimed: make(map[string]struct{})}
}

func (t *MemoryTracker) Claim(_ context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.claimed[key]; ok {
		return false, nil
	}
	t.claimed[key] = struct{}{}
	return true, nil
}

func (t *MemoryTracker) Release(_ context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.claimed, key)
	return nil
}

// =============================================================================
// REDIS TRACKER - shared across bot processes
// =============================================================================

// DefaultClaimTTL bounds how long a consumed prompt is remembered. The
// ledger idempotency key still rejects repeats after it expires.
const DefaultClaimTTL = 30 * 24 * time.Hour

type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &RedisTracker{client: client, prefix: "debtbot:", ttl: ttl}
}

func (t *RedisTracker) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key, time.Now().UTC().Unix(), t.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim %s: %w", key, err)
	}
	return ok, nil
}

func (t *RedisTracker) Release(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}
