package mq

import (
	"bankledger/internal/config"
	"bankledger/internal/infrastructure/logger"
	"bankledger/internal/model"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

var KafkaProducer sarama.SyncProducer

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) sarama.SyncProducer {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		logger.L().Fatal("创建 Kafka 生产者失败", zap.Error(err))
	}

	KafkaProducer = producer
	logger.L().Info("Kafka 生产者创建成功")
	return producer
}

// SendMessage 发送消息到 Kafka
// key 使用 userID，保证同一用户的事件落在同一分区、保持顺序
func SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := KafkaProducer.SendMessage(msg)
	return err
}

// TopicFor 按事件类型路由 Kafka topic，未知类型返回空串（调用方跳过投递）
func TopicFor(cfg *config.KafkaTopicConfig, eventType string) string {
	switch eventType {
	case model.EventTypeDepositProcessed:
		return cfg.DepositProcessed
	case model.EventTypeBillPaid:
		return cfg.BillPaid
	}
	return ""
}

// CloseKafka 关闭 Kafka 生产者
func CloseKafka() {
	if KafkaProducer != nil {
		KafkaProducer.Close()
	}
}
