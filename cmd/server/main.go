package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/handler"
	"bankledger/internal/infrastructure/cache"
	"bankledger/internal/infrastructure/database"
	"bankledger/internal/infrastructure/event"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/infrastructure/mq"
	"bankledger/internal/job"
	"bankledger/internal/service"
	"bankledger/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化日志
	log := logger.Init(os.Getenv("APP_ENV") != "production")
	defer logger.Sync()

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)

	// 初始化 Kafka
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 每用户互斥锁：单实例用进程内锁，多实例切 Redis 分布式锁
	var locker lock.UserLocker
	if cfg.Business.LockMode == config.LockModeRedis {
		locker = lock.NewRedisUserLock(redisClient)
	} else {
		locker = lock.NewKeyLock()
	}

	// 事件总线与命令/查询服务
	bus := event.NewBus(log)
	queries := service.NewQueryService(db, cfg, cache.NewRedisStore(redisClient))
	commands := service.NewCommandService(db, cfg, locker, bus)
	service.RegisterSubscribers(bus, queries)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动发件箱投递任务
	outboxSender := job.NewOutboxSender(db, cfg)
	go outboxSender.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(cfg, commands, queries)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 等待在途的异步事件订阅者执行完毕
	bus.Wait()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
}
