// Package lock 提供按产品族串行化结构写入的锁。
// 同一产品族的写入依次执行，不同产品族之间互不阻塞。
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout 表示在等待时间内未能获得锁。
var ErrLockTimeout = errors.New("lock wait timeout")

// Locker 获取命名锁，返回释放锁的函数。
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker 是进程内实现，适用于单实例部署和测试。
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	wait  time.Duration
}

// NewLocalLocker 创建进程内锁，wait 为 0 时只受 ctx 限制。
func NewLocalLocker(wait time.Duration) *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{}), wait: wait}
}

func (l *LocalLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
	}
}

// 只有持有者才能释放锁，避免误删他人在 TTL 过期后获得的锁。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker 基于 SET NX PX 的分布式锁。
type RedisLocker struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
}

// NewRedisLocker 创建分布式锁。ttl 是锁的最长持有时间，wait 是获取锁的最长等待时间。
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		prefix:   "typecode:lock:",
		ttl:      ttl,
		wait:     wait,
		interval: 50 * time.Millisecond,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("redis setnx %s: %w", fullKey, err)
		}
		if ok {
			return func() {
				// 使用独立的 context，调用方的 ctx 可能已经取消
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.rdb, []string{fullKey}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}
