package logger

import (
	"log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var global *zap.Logger = zap.NewNop()

// Init 初始化全局 zap 日志
// debug=true 时使用开发配置（彩色、可读），否则使用生产 JSON 配置
func Init(debug bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		l, err = cfg.Build()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	global = l
	zap.ReplaceGlobals(l)
	return l
}

// L 返回全局日志实例
func L() *zap.Logger {
	return global
}

// Sync 刷新缓冲区，进程退出前调用
func Sync() {
	_ = global.Sync()
}
