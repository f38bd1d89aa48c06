package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================================
// 金额值对象
// ============================================================================
//
// 【为什么不用 float64？】
//
// 0.1 + 0.2 != 0.3 —— 浮点数表示金额迟早对不上账。
// 账务系统的金额必须精确到分，所以统一用 decimal 表示，
// 并且在构造时就把精度锁死在 2 位小数：
//   - "10.50"  OK
//   - "10.5"   OK（等价于 10.50）
//   - "10.555" 拒绝（超过 2 位小数）
//
// Amount 是不可变对象，所有运算返回新值。
//
// ============================================================================

var ErrInvalidScale = errors.New("金额最多保留2位小数")

// Amount 金额，定点 2 位小数
type Amount struct {
	dec decimal.Decimal
}

// ZeroAmount 零值金额
func ZeroAmount() Amount {
	return Amount{dec: decimal.Zero}
}

// NewAmount 从字符串构造金额
// 超过 2 位小数直接拒绝，而不是悄悄舍入
func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("金额格式错误: %w", err)
	}
	return newAmount(d)
}

// MustAmount 从字符串构造金额，解析失败直接 panic（仅用于常量和测试）
func MustAmount(s string) Amount {
	a, err := NewAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func newAmount(d decimal.Decimal) (Amount, error) {
	// 舍入到 2 位后数值发生变化，说明原值带有超精度尾数
	if !d.Equal(d.Round(2)) {
		return Amount{}, ErrInvalidScale
	}
	return Amount{dec: d}, nil
}

// Add 加法
func (a Amount) Add(b Amount) Amount {
	return Amount{dec: a.dec.Add(b.dec)}
}

// Sub 减法
func (a Amount) Sub(b Amount) Amount {
	return Amount{dec: a.dec.Sub(b.dec)}
}

// MulRate 按比例计算并四舍五入到分（用于罚息）
func (a Amount) MulRate(rate decimal.Decimal) Amount {
	return Amount{dec: a.dec.Mul(rate).Round(2)}
}

// Neg 取负
func (a Amount) Neg() Amount {
	return Amount{dec: a.dec.Neg()}
}

// Cmp 比较：a<b 返回 -1，a==b 返回 0，a>b 返回 1
func (a Amount) Cmp(b Amount) int {
	return a.dec.Cmp(b.dec)
}

// GreaterThanOrEqual a >= b
func (a Amount) GreaterThanOrEqual(b Amount) bool {
	return a.dec.GreaterThanOrEqual(b.dec)
}

// IsPositive a > 0
func (a Amount) IsPositive() bool {
	return a.dec.IsPositive()
}

// IsNegative a < 0
func (a Amount) IsNegative() bool {
	return a.dec.IsNegative()
}

// IsZero a == 0
func (a Amount) IsZero() bool {
	return a.dec.IsZero()
}

// Equal 数值相等（10.5 == 10.50）
func (a Amount) Equal(b Amount) bool {
	return a.dec.Equal(b.dec)
}

// String 固定 2 位小数的字符串表示，如 "98.00"
func (a Amount) String() string {
	return a.dec.StringFixed(2)
}

// Decimal 返回底层 decimal 值
func (a Amount) Decimal() decimal.Decimal {
	return a.dec
}

// ============================================================
// 数据库与 JSON 编解码
// ============================================================

// Value 实现 driver.Valuer，按 "98.00" 格式写入 decimal 列
func (a Amount) Value() (driver.Value, error) {
	return a.dec.StringFixed(2), nil
}

// Scan 实现 sql.Scanner
func (a *Amount) Scan(value interface{}) error {
	if value == nil {
		a.dec = decimal.Zero
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return fmt.Errorf("金额列读取失败: %w", err)
	}
	a.dec = d
	return nil
}

// MarshalJSON 金额在 JSON 中统一为字符串，避免前端浮点精度问题
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.dec.StringFixed(2))
}

// UnmarshalJSON 接受字符串形式的金额，同样执行精度校验
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("金额必须为字符串，如 \"10.50\"")
	}
	parsed, err := NewAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
