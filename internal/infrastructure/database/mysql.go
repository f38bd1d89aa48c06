package database

import (
	"fmt"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/model"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 连接
func InitMySQL(cfg *config.MySQLConfig) *gorm.DB {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		logger.L().Fatal("连接 MySQL 失败", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.L().Fatal("获取底层 DB 失败", zap.Error(err))
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		logger.L().Fatal("自动迁移表结构失败", zap.Error(err))
	}

	DB = db
	logger.L().Info("MySQL 连接成功")
	return db
}

// Migrate 自动迁移表结构（测试中对 sqlite 同样适用）
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Balance{},
		&model.TransactionRecord{},
		&model.OutboxMessage{},
	)
}
