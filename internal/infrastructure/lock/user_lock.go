package lock

import (
	"context"
	"sync"
)

// ============================================================================
// 每用户互斥
// ============================================================================
//
// 【为什么要按用户加锁？】
//
// 场景：同一用户并发发起两笔支付
//
// 没有锁的情况：
//   goroutine1: 读余额=150 -> 扣款100 -> 余额=50
//   goroutine2: 读余额=150 -> 扣款100 -> 余额=50   丢了一次扣款！
//
// 加锁之后同一用户的读-改-写被串行化，不同用户互不竞争。
// 余额表的乐观锁版本号是第二道防线：即使锁被绕过，
// 基于过期版本的保存也会被存储层拒绝并触发重试。
//
// 锁的粒度覆盖整个命令：余额变更 + 流水追加 + 事件落库提交后才释放。
// ============================================================================

// UserLocker 每用户互斥原语
// 单实例部署用进程内 KeyLock，多实例部署用 Redis 分布式锁
type UserLocker interface {
	// Acquire 获取 userID 对应的锁，返回释放函数
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// KeyLock 进程内按 key 互斥锁
// 引用计数的 mutex map：没有等待者时条目会被回收，不会随用户数无限增长
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[string]*keyLockEntry)}
}

// Acquire 阻塞直到获得 key 的独占权
func (l *KeyLock) Acquire(_ context.Context, userID string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if !ok {
		entry = &keyLockEntry{}
		l.entries[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	release := func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, userID)
		}
		l.mu.Unlock()
	}
	return release, nil
}
