package service

import (
	"context"

	"bankledger/internal/infrastructure/event"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/model"

	"go.uber.org/zap"
)

// RegisterSubscribers 启动时静态注册事件订阅关系
//
// snapshot-refresh：同步、高优先级 —— 命令返回前缓存已指向新状态，
// 命令方调用方紧接着的读能看到自己的写。
// overdraft-alert：异步、低优先级 —— 告警慢或失败都不拖累命令。
func RegisterSubscribers(bus *event.Bus, queries *QueryService) {
	refresh := func(ctx context.Context, e model.DomainEvent) error {
		return queries.RefreshSnapshot(ctx, e.EventUserID())
	}
	bus.Subscribe(model.EventTypeDepositProcessed, "snapshot-refresh", refresh, event.Options{Sync: true, Priority: 10})
	bus.Subscribe(model.EventTypeBillPaid, "snapshot-refresh", refresh, event.Options{Sync: true, Priority: 10})

	bus.Subscribe(model.EventTypeBillPaid, "overdraft-alert", func(ctx context.Context, e model.DomainEvent) error {
		paid, ok := e.(*model.BillPaid)
		if !ok || !paid.WentNegative {
			return nil
		}
		// 只在首次转入透支时告警，已透支账户的后续支付不重复触发
		logger.L().Warn("账户进入透支",
			zap.String("user_id", paid.UserID),
			zap.String("amount", paid.Amount.String()),
			zap.String("balance_after", paid.BalanceAfter.String()),
			zap.String("correlation_id", paid.CorrelationID),
		)
		return nil
	}, event.Options{Sync: false, Priority: 100})
}
