package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 透支罚息率：入账时对全部未清透支一次性加收 2%
var overdraftPenaltyRate = decimal.RequireFromString("1.02")

// Balance 用户余额表（聚合根，一个用户一行）
//
// 【不变量】Available 和 Overdraft 永远不会同时大于 0：
// 账户要么有可用余额，要么有透支欠款，不存在"既有钱又欠钱"的状态。
// 所有变更只能通过 Deposit / PayBill 进行，聚合自身保证该不变量。
type Balance struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"` // 用户ID，业务方传入的不透明标识
	Available       Amount     `gorm:"type:decimal(20,2);not null;default:0" json:"available"`
	Overdraft       Amount     `gorm:"type:decimal(20,2);not null;default:0" json:"overdraft"` // 透支欠款（绝对值）
	Version         int        `gorm:"not null;default:0" json:"version"`                      // 乐观锁版本号，每次变更+1
	LastOverdraftAt *time.Time `json:"last_overdraft_at"`                                     // 首次进入透支的时间，还清后清空
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Balance) TableName() string {
	return "balance"
}

// NewBalance 懒创建：用户第一次发生业务时才建账户，初始余额为 0
func NewBalance(userID string) *Balance {
	return &Balance{
		UserID:    userID,
		Available: ZeroAmount(),
		Overdraft: ZeroAmount(),
	}
}

// InOverdraft 当前是否处于透支状态
func (b *Balance) InOverdraft() bool {
	return b.Overdraft.IsPositive()
}

// Effective 有效余额：无透支时为可用余额，透支时为欠款的负值
func (b *Balance) Effective() Amount {
	if b.InOverdraft() {
		return b.Overdraft.Neg()
	}
	return b.Available
}

// Deposit 入账
//
// 【关键点】透支状态下的入账规则：
// 1. 先对全部未清透支加收 2% 罚息：penalized = overdraft * 1.02
// 2. remainder = amount - penalized
//    - remainder >= 0：欠款还清，剩余部分进入可用余额，透支时间清空
//    - remainder <  0：欠款减少为 penalized - amount，可用余额仍为 0
// 无透支时直接累加可用余额。
//
// 注意：罚息是按整笔欠款收的，与本次入账金额大小无关。
// 返回值 interestApplied 表示本次入账是否触发了罚息。
func (b *Balance) Deposit(amount Amount, now time.Time) (interestApplied bool) {
	if b.InOverdraft() {
		penalized := b.Overdraft.MulRate(overdraftPenaltyRate)
		remainder := amount.Sub(penalized)
		if remainder.IsNegative() {
			// 没还清：欠款含罚息后减去入账额，仍处于透支
			b.Overdraft = penalized.Sub(amount)
		} else {
			// 还清：剩余进入可用余额
			b.Overdraft = ZeroAmount()
			b.Available = remainder
			b.LastOverdraftAt = nil
		}
		interestApplied = true
	} else {
		b.Available = b.Available.Add(amount)
	}
	b.UpdatedAt = now
	return interestApplied
}

// PayBill 支付账单
//
// 余额不足不是错误 —— 不足部分转为透支欠款：
//   shortfall = amount - available
//   available = 0, overdraft += shortfall
//
// wentNegative 仅在"本次从非透支变为透支"时为 true，
// 已经透支的账户再次支付不会重复触发（用于告警去重）。
func (b *Balance) PayBill(amount Amount, now time.Time) (wentNegative bool) {
	if b.Available.GreaterThanOrEqual(amount) {
		b.Available = b.Available.Sub(amount)
	} else {
		wasNegative := b.InOverdraft()
		shortfall := amount.Sub(b.Available)
		b.Available = ZeroAmount()
		b.Overdraft = b.Overdraft.Add(shortfall)
		// 记录的是"首次"转负的时间，已透支再支付不覆盖
		if !wasNegative {
			t := now
			b.LastOverdraftAt = &t
		}
		wentNegative = !wasNegative
	}
	b.UpdatedAt = now
	return wentNegative
}
