package job

import (
	"context"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OutboxSender 发件箱投递任务
// 轮询 PENDING 的领域事件并投递到 Kafka，
// 失败累加重试计数，超过上限标记 FAILED 等待人工处理。
// 进程内总线是尽力而为的，这里才是事件的可靠出口。
type OutboxSender struct {
	db         *gorm.DB
	outboxRepo *repository.OutboxRepository
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config) *OutboxSender {
	return &OutboxSender{
		db:         db,
		outboxRepo: repository.NewOutboxRepository(db),
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.L().Info("发件箱投递任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.L().Info("发件箱投递任务收到停止信号，退出")
			return
		case <-s.stopCh:
			logger.L().Info("发件箱投递任务停止")
			return
		case <-ticker.C:
			s.processPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPending(ctx context.Context) {
	messages, err := s.outboxRepo.PendingBatch(ctx, s.batchSize)
	if err != nil {
		logger.L().Error("查询发件箱失败", zap.Error(err))
		return
	}

	for _, msg := range messages {
		s.send(ctx, msg)
	}
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) {
	if msg.Topic == "" {
		// 没有配置对应 topic 的事件类型不投递，直接标记完成
		if err := s.outboxRepo.MarkSent(ctx, msg.ID); err != nil {
			logger.L().Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		}
		return
	}

	err := mq.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			logger.L().Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
		}
		return
	}

	logger.L().Warn("事件投递失败",
		zap.Int64("id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Error(err),
	)

	if msg.RetryCount+1 >= s.cfg.Business.OutboxMaxRetry {
		if err := s.outboxRepo.MarkFailed(ctx, msg.ID); err != nil {
			logger.L().Error("标记消息失败状态失败", zap.Int64("id", msg.ID), zap.Error(err))
		} else {
			logger.L().Error("事件超过最大重试次数，标记为失败", zap.Int64("id", msg.ID))
		}
		return
	}

	if err := s.outboxRepo.IncrementRetry(ctx, msg.ID); err != nil {
		logger.L().Error("增加重试次数失败", zap.Int64("id", msg.ID), zap.Error(err))
	}
}
