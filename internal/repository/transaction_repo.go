package repository

import (
	"context"

	"bankledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Append 追加一条流水
// 流水表只有 INSERT，没有 UPDATE/DELETE；失败只可能是存储不可用
func (r *TransactionRepository) Append(ctx context.Context, tx *gorm.DB, record *model.TransactionRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

// ListByUser 查询用户流水，时间倒序（最新在前）
// 同一时间戳用自增 id 做次级排序，保证分页稳定
func (r *TransactionRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]*model.TransactionRecord, int64, error) {
	var records []*model.TransactionRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TransactionRecord{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error

	return records, total, err
}

// CountByUser 用户流水总条数（测试与对账用）
func (r *TransactionRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.TransactionRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}
