package service

import (
	"errors"
	"fmt"
)

// ============================================================
// 错误分类
// ============================================================
//
// ValidationError  —— 入参不合法，带字段名精确返回给调用方，不重试
// ErrTryAgain      —— 乐观锁冲突重试耗尽 / 系统繁忙，调用方稍后重试，
//                     不暴露内部重试细节
// 基础设施错误     —— 存储/缓存/消息不可用，包装后向上传播，
//                     命令未持久化成功就不算已执行
// 订阅者错误       —— 只记日志，不回滚已提交的命令（见 event 包）
// ============================================================

var ErrTryAgain = errors.New("系统繁忙，请稍后重试")

// ValidationError 入参校验失败，定位到具体字段
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("参数错误: %s %s", e.Field, e.Reason)
}

// AsValidation 判断并提取校验错误
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
