package lock

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 托管账户锁
// ============================================================================
//
// 同一托管账户上的动作必须串行：两个并发的 approve 都读到 submitted，
// 如果不加锁会放款两次。
//
// 加锁：SET key value NX PX ttl
//   - NX 保证互斥
//   - ttl 防止持有者崩溃后死锁
//   - value 标识持有者，释放时校验，避免误删别人的锁
//
// 释放：Lua 脚本原子地“比较再删除”
//
// 锁只是第一道防线，持久化时还有状态 CAS 和版本号兜底。
// ============================================================================

var (
	ErrLockFailed  = errors.New("获取分布式锁失败")
	ErrLockExpired = errors.New("锁已过期")
)

const unlockScript = `
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`

// DistributedLock 基于 Redis 的单把锁
type DistributedLock struct {
	client     redis.UniversalClient
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client redis.UniversalClient, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 非阻塞尝试一次
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock 阻塞获取，超过 maxRetries 次返回 ErrLockFailed
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock 只删除自己持有的锁；锁已过期或被他人持有时返回 ErrLockExpired
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockExpired
	}
	return nil
}
