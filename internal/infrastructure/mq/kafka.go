package mq

import (
	"fmt"

	"escrowsystem/internal/config"

	"github.com/IBM/sarama"
)

// Publisher 事件投递接口，OutboxSender 只依赖它
type Publisher interface {
	Publish(topic, key string, value []byte) error
	Close() error
}

// Producer 基于 sarama 同步生产者
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducerConfig 等所有副本确认，保证事件不丢
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	kafkaConfig.Version = sarama.V2_1_0_0
	return kafkaConfig
}

func NewKafkaProducer(cfg *config.KafkaConfig) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return NewProducer(producer), nil
}

func NewProducer(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// Publish key 为托管账户ID，同一托管的事件有序
func (p *Producer) Publish(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
