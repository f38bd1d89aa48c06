package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/model"
)

// ============================================================================
// 余额快照缓存
// ============================================================================
//
// 读路径：命中直接返回，未命中调用 rebuild 重建并写回。
// 写路径：命令提交后由事件订阅者调用 Refresh 覆盖。
//
// 【一致性说明】缓存只保证与写侧最终一致：
// 在"命令提交"与"刷新订阅者执行完毕"之间读到旧快照是允许的，
// 刷新完成之后的读一定能看到该命令的结果。
//
// 【关键点】重建和写回必须按用户串行：
// 未命中触发的重建如果和 Refresh 并发执行，
// 在途的旧重建可能在 Refresh 之后落缓存，把新快照盖回旧状态。
// 因此 rebuild + Set 整体持有按用户的互斥锁，
// Get 拿到锁后再查一次缓存，等锁期间别人刷新过就直接用。
// ============================================================================

// RebuildFunc 从余额聚合 + 流水重建快照
type RebuildFunc func(ctx context.Context) (*model.BalanceSnapshot, error)

// SnapshotCache 余额快照缓存
type SnapshotCache struct {
	store Store
	ttl   time.Duration
	locks *lock.KeyLock // 按用户串行化 rebuild + Set
}

func NewSnapshotCache(store Store, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{store: store, ttl: ttl, locks: lock.NewKeyLock()}
}

func snapshotKey(userID string) string {
	return fmt.Sprintf("balance:snapshot:%s", userID)
}

// Get 读取快照；未命中时用 rebuild 重建并写回缓存
func (c *SnapshotCache) Get(ctx context.Context, userID string, rebuild RebuildFunc) (*model.BalanceSnapshot, error) {
	if snapshot, hit := c.lookup(ctx, userID); hit {
		return snapshot, nil
	}

	release, err := c.locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 等锁期间可能有 Refresh 或其他重建已经写回，先查一次再重建
	if snapshot, hit := c.lookup(ctx, userID); hit {
		return snapshot, nil
	}
	return c.rebuildAndStore(ctx, userID, rebuild)
}

// Refresh 重建并覆盖缓存，由变更事件的订阅者调用
func (c *SnapshotCache) Refresh(ctx context.Context, userID string, rebuild RebuildFunc) (*model.BalanceSnapshot, error) {
	release, err := c.locks.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return c.rebuildAndStore(ctx, userID, rebuild)
}

func (c *SnapshotCache) lookup(ctx context.Context, userID string) (*model.BalanceSnapshot, bool) {
	raw, hit, err := c.store.Get(ctx, snapshotKey(userID))
	if err != nil || !hit {
		// 缓存读失败按未命中处理，走重建
		return nil, false
	}
	snapshot := &model.BalanceSnapshot{}
	if err := json.Unmarshal(raw, snapshot); err != nil {
		// 反序列化失败按未命中处理，重建覆盖脏数据
		return nil, false
	}
	return snapshot, true
}

// rebuildAndStore 调用方必须已持有 userID 的锁
func (c *SnapshotCache) rebuildAndStore(ctx context.Context, userID string, rebuild RebuildFunc) (*model.BalanceSnapshot, error) {
	snapshot, err := rebuild(ctx)
	if err != nil {
		return nil, err
	}
	snapshot.CachedAt = time.Now()
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("快照序列化失败: %w", err)
	}
	if err := c.store.Set(ctx, snapshotKey(userID), raw, c.ttl); err != nil {
		return nil, fmt.Errorf("写入缓存失败: %w", err)
	}
	return snapshot, nil
}

// Invalidate 删除缓存项，下次读取触发重建
func (c *SnapshotCache) Invalidate(ctx context.Context, userID string) error {
	return c.store.Delete(ctx, snapshotKey(userID))
}
