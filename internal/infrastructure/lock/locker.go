package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker 按 key 互斥，超过 timeout 仍未拿到锁返回 ErrLockFailed
// release 可重复调用
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// EscrowKey 托管账户锁的 key
func EscrowKey(escrowID string) string {
	return "escrow:lock:" + escrowID
}

// RedisLocker 多实例部署时使用
type RedisLocker struct {
	client        redis.UniversalClient
	timeout       time.Duration
	retryInterval time.Duration
	ttl           time.Duration
	logger        *slog.Logger
}

func NewRedisLocker(client redis.UniversalClient, timeout, retryInterval, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		timeout:       timeout,
		retryInterval: retryInterval,
		ttl:           ttl,
		logger:        logger.With("component", "redis_locker"),
	}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l := NewDistributedLock(r.client, key, uuid.NewString(), r.ttl)

	// 首次尝试不等待，之后每隔 retryInterval 重试直到 timeout
	retries := int(r.timeout/r.retryInterval) + 1
	if err := l.Lock(ctx, r.retryInterval, retries); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 请求 ctx 可能已取消，释放锁用独立的 ctx
			unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := l.Unlock(unlockCtx); err != nil {
				r.logger.Warn("释放锁失败", "key", key, "error", err)
			}
		})
	}, nil
}

// LocalLocker 单实例部署与测试使用的进程内按 key 互斥锁
type LocalLocker struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	sem  chan struct{}
	refs int // 持有者 + 等待者
}

func NewLocalLocker(timeout time.Duration) *LocalLocker {
	return &LocalLocker{
		timeout: timeout,
		entries: make(map[string]*localEntry),
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrLockFailed
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

// unref 没有持有者也没有等待者时删除条目，避免 map 无限增长
func (l *LocalLocker) unref(key string, e *localEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
