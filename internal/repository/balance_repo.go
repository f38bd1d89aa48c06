package repository

import (
	"context"
	"errors"

	"bankledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound = errors.New("账户不存在")
	ErrVersionConflict = errors.New("乐观锁冲突，请重试")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Load 读取用户余额
func (r *BalanceRepository) Load(ctx context.Context, userID string) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate 懒创建账户：首次操作时插入零余额行
// 并发首建用 ON CONFLICT DO NOTHING 兜底，谁先插入都不报错
func (r *BalanceRepository) GetOrCreate(ctx context.Context, userID string) (*model.Balance, error) {
	balance, err := r.Load(ctx, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(model.NewBalance(userID)).Error
	if err != nil {
		return nil, err
	}

	return r.Load(ctx, userID)
}

// Save 带版本校验的保存（compare-and-set）
//
// 【关键点】WHERE 条件同时限定 user_id 和读取时的 version：
// 影响行数为 0 说明别人先改过了，返回 ErrVersionConflict，
// 由命令管线从最新读重试，绝不静默合并两次写。
// 成功后同步内存中的版本号。
func (r *BalanceRepository) Save(ctx context.Context, tx *gorm.DB, balance *model.Balance) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Balance{}).
		Where("user_id = ? AND version = ?", balance.UserID, balance.Version).
		Updates(map[string]interface{}{
			"available":         balance.Available,
			"overdraft":         balance.Overdraft,
			"last_overdraft_at": balance.LastOverdraftAt,
			"version":           gorm.Expr("version + 1"),
			"updated_at":        balance.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	balance.Version++
	return nil
}
