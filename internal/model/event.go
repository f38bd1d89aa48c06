package model

import (
	"time"
)

// ============================================================================
// 领域事件
// ============================================================================
//
// 每个成功的命令恰好产生一个事件，事件本身不会重试、不会去重，
// 投递语义见 event 包的说明。
// ============================================================================

const (
	EventTypeDepositProcessed = "DepositProcessed"
	EventTypeBillPaid         = "BillPaid"
)

// DomainEvent 领域事件统一接口
// 事件类型用显式字符串常量标识，订阅关系在启动时静态注册，
// 不做任何反射式的类型派发
type DomainEvent interface {
	EventType() string
	EventUserID() string
	EventCorrelationID() string
}

// DepositProcessed 入账完成事件
// BalanceBefore / BalanceAfter 为变更前后的有效余额；
// InterestApplied 表示本次入账是否收取了透支罚息
type DepositProcessed struct {
	UserID           string    `json:"user_id"`
	Amount           Amount    `json:"amount"`
	BalanceBefore    Amount    `json:"balance_before"`
	BalanceAfter     Amount    `json:"balance_after"`
	InterestApplied  bool      `json:"interest_applied"`
	CorrelationID    string    `json:"correlation_id"`
	AggregateVersion int       `json:"aggregate_version"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (DepositProcessed) EventType() string { return EventTypeDepositProcessed }

func (e DepositProcessed) EventUserID() string { return e.UserID }

func (e DepositProcessed) EventCorrelationID() string { return e.CorrelationID }

// BillPaid 账单支付完成事件
// WentNegative 表示本次支付是否首次进入透支，已透支后再支付不会置真
type BillPaid struct {
	UserID           string    `json:"user_id"`
	Amount           Amount    `json:"amount"`
	BalanceBefore    Amount    `json:"balance_before"`
	BalanceAfter     Amount    `json:"balance_after"`
	WentNegative     bool      `json:"went_negative"`
	CorrelationID    string    `json:"correlation_id"`
	AggregateVersion int       `json:"aggregate_version"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (BillPaid) EventType() string { return EventTypeBillPaid }

func (e BillPaid) EventUserID() string { return e.UserID }

func (e BillPaid) EventCorrelationID() string { return e.CorrelationID }
