package config

import (
	"log"

	"github.com/spf13/viper"
)

// 每用户互斥锁的实现方式
const (
	LockModeLocal = "local" // 进程内按 key 互斥（单实例部署）
	LockModeRedis = "redis" // Redis SetNX 分布式锁（多实例部署）
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	DepositProcessed string `mapstructure:"deposit_processed"`
	BillPaid         string `mapstructure:"bill_paid"`
}

type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	ExpireMinutes int    `mapstructure:"expire_minutes"`
}

type BusinessConfig struct {
	ConflictMaxRetry    int    `mapstructure:"conflict_max_retry"`    // 乐观锁冲突时命令的最大重试次数
	OutboxMaxRetry      int    `mapstructure:"outbox_max_retry"`      // 发件箱消息投递失败的最大重试次数
	SnapshotTTLSeconds  int    `mapstructure:"snapshot_ttl_seconds"`  // 快照缓存过期时间
	HistoryPageSize     int    `mapstructure:"history_page_size"`     // 快照内嵌流水条数上限
	LockMode            string `mapstructure:"lock_mode"`             // local / redis
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	applyDefaults(config)
	GlobalConfig = config
	return config
}

func applyDefaults(c *Config) {
	if c.Business.ConflictMaxRetry <= 0 {
		c.Business.ConflictMaxRetry = 3
	}
	if c.Business.OutboxMaxRetry <= 0 {
		c.Business.OutboxMaxRetry = 5
	}
	if c.Business.SnapshotTTLSeconds <= 0 {
		c.Business.SnapshotTTLSeconds = 300
	}
	if c.Business.HistoryPageSize <= 0 {
		c.Business.HistoryPageSize = 50
	}
	if c.Business.LockMode == "" {
		c.Business.LockMode = LockModeLocal
	}
	if c.JWT.ExpireMinutes <= 0 {
		c.JWT.ExpireMinutes = 120
	}
}
