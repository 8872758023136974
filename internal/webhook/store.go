package webhook

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wpshiftstudio/payin3/internal/cache"
)

// MemoryStore keeps idempotency records in process. Expired records are
// purged on the cleanup interval and ignored before that.
type MemoryStore struct {
	items *gocache.Cache
}

func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{items: gocache.New(window, 2*window)}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, window time.Duration) (bool, error) {
	// Add fails when a live item exists.
	if err := s.items.Add(key, struct{}{}, window); err != nil {
		return false, nil
	}
	return true, nil
}

// RedisStore shares idempotency records across instances with SET NX EX
type RedisStore struct {
	cache *cache.Client
}

func NewRedisStore(c *cache.Client) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Reserve(ctx context.Context, key string, window time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, "webhook:"+key, "1", window)
}

var (
	_ IdempotencyStore = (*MemoryStore)(nil)
	_ IdempotencyStore = (*RedisStore)(nil)
)
