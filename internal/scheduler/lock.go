package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wpshiftstudio/payin3/internal/cache"
)

// ErrTickInProgress is returned when another tick holds the lock
var ErrTickInProgress = errors.New("a scheduler tick is already in progress")

// TickLock guarantees at most one tick in flight
type TickLock interface {
	// TryAcquire never blocks waiting for the holder. ok is false when the lock is taken.
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// LocalTickLock serialises ticks within one process
type LocalTickLock struct {
	mu sync.Mutex
}

func (l *LocalTickLock) TryAcquire(context.Context) (func(), bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	return l.mu.Unlock, true, nil
}

// RedisTickLock serialises ticks across processes sharing a Redis instance.
// The holder renews the TTL while the tick runs, so the TTL only bounds how
// long a crashed holder can block other instances.
type RedisTickLock struct {
	cache *cache.Client
	key   string
	ttl   time.Duration
}

const minLockTTL = 3 * time.Second

func NewRedisTickLock(c *cache.Client, key string, ttl time.Duration) *RedisTickLock {
	if ttl < minLockTTL {
		ttl = minLockTTL
	}
	return &RedisTickLock{cache: c, key: key, ttl: ttl}
}

func (l *RedisTickLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.New().String()
	ok, err := l.cache.SetNX(ctx, l.key, token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, _ = l.cache.ReleaseIfOwner(ctx, l.key, token)
		})
	}
	return release, true, nil
}

// keepAlive renews the lock every third of its TTL until stop closes or the
// lock is lost.
func (l *RedisTickLock) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := l.cache.ExtendIfOwner(ctx, l.key, token, l.ttl)
			cancel()
			if err == nil && !held {
				return
			}
		}
	}
}

// ChainLock acquires every lock in order and releases in reverse
type ChainLock []TickLock

func (c ChainLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, ok, err := l.TryAcquire(ctx)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}
