package security

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist records revoked raw token strings. A token present in the
// blacklist must be rejected by validation regardless of signature or expiry.
type TokenBlacklist interface {
	// Add marks the token as revoked. ttl bounds how long the entry must be
	// kept; after the token's own expiry a kept entry has no effect.
	Add(ctx context.Context, token string, ttl time.Duration) error
	// Contains reports whether the token has been revoked.
	Contains(ctx context.Context, token string) (bool, error)
}

type blacklistEntry struct {
	expiresAt time.Time
}

// MemoryBlacklist is an in-process TokenBlacklist. Entries are evicted lazily
// once their ttl has elapsed, so revoked-and-expired tokens do not accumulate
// for the life of the process.
type MemoryBlacklist struct {
	mu   sync.RWMutex
	m    map[string]blacklistEntry
	nowF func() time.Time
}

// NewMemoryBlacklist returns an empty in-memory blacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		m:    make(map[string]blacklistEntry),
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// Add marks the token as revoked for ttl.
func (b *MemoryBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.m[token] = blacklistEntry{expiresAt: b.nowF().Add(ttl)}
	return nil
}

// Contains reports whether the token has been revoked and its entry is still live.
func (b *MemoryBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	b.mu.RLock()
	e, ok := b.m[token]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !e.expiresAt.After(b.nowF()) {
		b.mu.Lock()
		delete(b.m, token)
		b.mu.Unlock()
		return false, nil
	}
	return true, nil
}

const redisBlacklistPrefix = "blacklist:"

// RedisBlacklist is a TokenBlacklist backed by Redis, for deployments where
// revocations must be visible across instances. Entries expire with their TTL.
type RedisBlacklist struct {
	client *redis.Client
}

// NewRedisBlacklist returns a blacklist backed by the given Redis client.
func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

// Add marks the token as revoked for ttl.
func (b *RedisBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	return b.client.Set(ctx, redisBlacklistPrefix+token, "1", ttl).Err()
}

// Contains reports whether the token has been revoked.
func (b *RedisBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, redisBlacklistPrefix+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
