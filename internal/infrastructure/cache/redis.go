package cache

import (
	"context"
	"fmt"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var RedisClient *redis.Client

func InitRedis(cfg *config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.L().Fatal("连接 Redis 失败", zap.Error(err))
	}

	RedisClient = client
	logger.L().Info("Redis 连接成功")
	return client
}
