package event

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"bankledger/internal/model"

	"go.uber.org/zap"
)

// ============================================================================
// 进程内事件总线
// ============================================================================
//
// 订阅关系在启动时静态注册：事件类型字符串 -> 有序的处理器列表，
// 不做反射式的类型派发。
//
// 投递语义（明确的限制）：
//   - at-most-once、尽力而为，没有死信和重放
//   - 同步订阅者在 Publish 返回前按优先级（升序）依次执行
//   - 异步订阅者投递到独立 goroutine，失败不影响也不阻塞发布方
//   - 订阅者报错或 panic 只记日志，绝不回滚已提交的命令
//
// 需要可靠投递的消费方走 Kafka（见 outbox 发件箱），不要依赖本总线。
// ============================================================================

// Handler 事件处理器
type Handler func(ctx context.Context, e model.DomainEvent) error

// Options 订阅选项
type Options struct {
	Sync     bool // 同步订阅者在 Publish 内执行完毕
	Priority int  // 升序执行，数字小的先跑
}

type subscription struct {
	name     string
	handler  Handler
	sync     bool
	priority int
}

// Bus 进程内事件总线
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe 注册订阅者，按 (事件类型, 订阅者名字) 幂等：
// 重复注册同名订阅者会覆盖旧的，不会出现重复投递
func (b *Bus) Subscribe(eventType, name string, h Handler, opts Options) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, s := range list {
		if s.name == name {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, &subscription{
		name:     name,
		handler:  h,
		sync:     opts.Sync,
		priority: opts.Priority,
	})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority < list[j].priority
	})
	b.subs[eventType] = list
}

// Unsubscribe 取消订阅，重复取消是空操作
func (b *Bus) Unsubscribe(eventType, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[eventType]
	for i, s := range list {
		if s.name == name {
			b.subs[eventType] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish 发布事件
// 同步订阅者按优先级依次执行完才返回；异步订阅者独立投递。
// 订阅者失败只记日志（SubscriberFailure），不向发布方传播。
func (b *Bus) Publish(ctx context.Context, e model.DomainEvent) {
	b.mu.RLock()
	list := make([]*subscription, len(b.subs[e.EventType()]))
	copy(list, b.subs[e.EventType()])
	b.mu.RUnlock()

	for _, s := range list {
		if s.sync {
			b.invoke(ctx, s, e)
			continue
		}
		b.wg.Add(1)
		sub := s
		go func() {
			defer b.wg.Done()
			// 异步订阅者不随命令的 ctx 取消：命令在同步路径完成时即视为结束
			b.invoke(context.Background(), sub, e)
		}()
	}
}

// Wait 等待所有在途的异步订阅者执行完毕（用于优雅关闭和测试）
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) invoke(ctx context.Context, s *subscription, e model.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("事件订阅者 panic",
				zap.String("event_type", e.EventType()),
				zap.String("subscriber", s.name),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := s.handler(ctx, e); err != nil {
		b.logger.Error("事件订阅者执行失败",
			zap.String("event_type", e.EventType()),
			zap.String("subscriber", s.name),
			zap.String("user_id", e.EventUserID()),
			zap.String("correlation_id", e.EventCorrelationID()),
			zap.Error(err),
		)
	}
}
