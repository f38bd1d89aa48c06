package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ============================================================================
// Redis 分布式锁（多实例部署时替代进程内 KeyLock）
// ============================================================================
//
// 加锁：SET key value NX EX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - EX: 设置过期时间（防止持有者崩溃导致死锁）
//   - value: 锁持有者标识（释放时验证，防止误删别人的锁）
//
// 释放锁：Lua 脚本保证"检查 value + 删除"的原子性。
//
// ============================================================================

var ErrLockFailed = errors.New("获取分布式锁失败")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string
	expiration time.Duration
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock 阻塞式获取锁（带重试）
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
			// 继续重试
		}
	}
	return ErrLockFailed
}

// Unlock 释放锁
//
// 必须校验 value：锁过期后被他人持有时，
// 不加校验的 DEL 会把别人的锁删掉
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// ============================================================
// UserLocker 适配：按用户维度的余额变更锁
// ============================================================

// RedisUserLock 基于 Redis 的每用户互斥实现
type RedisUserLock struct {
	client *redis.Client
}

func NewRedisUserLock(client *redis.Client) *RedisUserLock {
	return &RedisUserLock{client: client}
}

// Acquire 获取用户锁，锁持有者标识用随机 uuid，释放时校验
func (r *RedisUserLock) Acquire(ctx context.Context, userID string) (func(), error) {
	key := fmt.Sprintf("ledger:lock:user:%s", userID)
	dl := NewDistributedLock(r.client, key, uuid.NewString(), 30*time.Second)
	if err := dl.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, err
	}
	release := func() {
		// 释放失败只能靠过期兜底，不影响已提交的命令
		_ = dl.Unlock(context.Background())
	}
	return release, nil
}
