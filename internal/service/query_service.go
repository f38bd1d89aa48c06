package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"gorm.io/gorm"
)

// ============================================================================
// 查询路径
// ============================================================================
//
// 读不走每用户写锁：查询命中缓存直接返回，
// 未命中时从已提交的余额+流水重建快照。
// 命令提交后由事件订阅者调用 RefreshSnapshot 覆盖缓存，
// 订阅者刷新完毕之后的读一定能看到该命令的结果（最终一致）。
// ============================================================================

type QueryService struct {
	db              *gorm.DB
	cfg             *config.Config
	transactionRepo *repository.TransactionRepository
	snapshots       *cache.SnapshotCache
}

func NewQueryService(db *gorm.DB, cfg *config.Config, store cache.Store) *QueryService {
	return &QueryService{
		db:              db,
		cfg:             cfg,
		transactionRepo: repository.NewTransactionRepository(db),
		snapshots: cache.NewSnapshotCache(
			store,
			time.Duration(cfg.Business.SnapshotTTLSeconds)*time.Second,
		),
	}
}

// GetSnapshot 查询余额快照
// includeHistory=false 时返回不带流水的副本，缓存内容不变
func (s *QueryService) GetSnapshot(ctx context.Context, userID string, includeHistory bool) (*model.BalanceSnapshot, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "不能为空"}
	}

	snapshot, err := s.snapshots.Get(ctx, userID, s.rebuildFunc(userID))
	if err != nil {
		return nil, err
	}
	if !includeHistory {
		trimmed := *snapshot
		trimmed.History = nil
		return &trimmed, nil
	}
	return snapshot, nil
}

// GetEffectiveBalance 查询有效余额（无透支为可用余额，透支为负的欠款）
func (s *QueryService) GetEffectiveBalance(ctx context.Context, userID string) (model.Amount, error) {
	snapshot, err := s.GetSnapshot(ctx, userID, false)
	if err != nil {
		return model.ZeroAmount(), err
	}
	return snapshot.EffectiveBalance, nil
}

// ListTransactions 分页查询流水，时间倒序
func (s *QueryService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.TransactionRecord, int64, error) {
	if userID == "" {
		return nil, 0, &ValidationError{Field: "user_id", Reason: "不能为空"}
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = s.cfg.Business.HistoryPageSize
	}
	return s.transactionRepo.ListByUser(ctx, userID, page, pageSize)
}

// RefreshSnapshot 无条件重建缓存，由变更事件的订阅者调用
func (s *QueryService) RefreshSnapshot(ctx context.Context, userID string) error {
	_, err := s.snapshots.Refresh(ctx, userID, s.rebuildFunc(userID))
	if err != nil {
		return fmt.Errorf("刷新快照失败: %w", err)
	}
	return nil
}

// rebuildFunc 从已提交的余额聚合 + 流水重建快照
// 账户不存在时返回隐式零余额快照，读路径不落库创建账户
//
// 余额和流水在同一个只读事务里读取：
// 两条独立查询之间若有命令提交，会拼出"旧余额 + 新流水"的撕裂快照
func (s *QueryService) rebuildFunc(userID string) cache.RebuildFunc {
	return func(ctx context.Context) (*model.BalanceSnapshot, error) {
		var snapshot *model.BalanceSnapshot
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := repository.NewBalanceRepository(tx).Load(ctx, userID)
			if errors.Is(err, repository.ErrBalanceNotFound) {
				balance = model.NewBalance(userID)
			} else if err != nil {
				return err
			}

			history, _, err := repository.NewTransactionRepository(tx).ListByUser(ctx, userID, 1, s.cfg.Business.HistoryPageSize)
			if err != nil {
				return err
			}

			snapshot = &model.BalanceSnapshot{
				UserID:           userID,
				Available:        balance.Available,
				Overdraft:        balance.Overdraft,
				EffectiveBalance: balance.Effective(),
				InOverdraft:      balance.InOverdraft(),
				Version:          balance.Version,
				LastUpdated:      balance.UpdatedAt,
				History:          history,
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return snapshot, nil
	}
}
