package model

import (
	"time"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeDeposit = "DEPOSIT" // 入账
	TransactionTypePayment = "PAYMENT" // 账单支付
)

// ============================================================================
// 交易流水实体
// ============================================================================

// TransactionRecord 交易流水表
// 记录账户的每一笔资金变动，是对账和审计的核心依据
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯，冲正必须新增一条补偿流水
// 2. 每笔流水携带调用方的 correlation_id —— 便于跨系统追踪
// 3. 记录交易后的有效余额快照 —— 便于校验余额一致性
type TransactionRecord struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        string    `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Type          string    `gorm:"type:varchar(20);not null" json:"type"`                 // DEPOSIT / PAYMENT
	Amount        Amount    `gorm:"type:decimal(20,2);not null" json:"amount"`             // 本次变动金额，恒为正数
	Description   string    `gorm:"type:varchar(256)" json:"description"`                  // 摘要
	BalanceAfter  Amount    `gorm:"type:decimal(20,2);not null" json:"balance_after"`      // 交易后有效余额（透支时为负）
	CorrelationID string    `gorm:"type:varchar(64);index;not null" json:"correlation_id"` // 调用方追踪ID
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TransactionRecord) TableName() string {
	return "transaction_record"
}
