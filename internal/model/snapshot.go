package model

import (
	"time"
)

// BalanceSnapshot 余额+流水的读侧快照
// 由查询路径缓存，写侧命令提交后通过事件订阅者刷新，
// 与写侧是最终一致的投影，不承担额外的正确性要求
type BalanceSnapshot struct {
	UserID           string               `json:"user_id"`
	Available        Amount               `json:"available"`
	Overdraft        Amount               `json:"overdraft"`
	EffectiveBalance Amount               `json:"effective_balance"`
	InOverdraft      bool                 `json:"in_overdraft"`
	Version          int                  `json:"version"`
	LastUpdated      time.Time            `json:"last_updated"`
	History          []*TransactionRecord `json:"history,omitempty"` // 按时间倒序
	CachedAt         time.Time            `json:"cached_at"`
}
