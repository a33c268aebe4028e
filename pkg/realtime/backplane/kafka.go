package backplane

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tokmz/lovpulse/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
}

// Kafka 基于单个 topic 的总线
// 每个节点独立消费全部分区（不使用消费组），从最新位点开始
type Kafka struct {
	producer   sarama.SyncProducer
	consumer   sarama.Consumer
	partitions []sarama.PartitionConsumer
	topic      string
	log        logger.Logger
}

// NewKafka 创建生产者与消费者
func NewKafka(cfg KafkaConfig, topic string, log logger.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers missing")
	}

	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	consumer, err := sarama.NewConsumer(cfg.Brokers, sc)
	if err != nil {
		_ = producer.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Kafka{producer: producer, consumer: consumer, topic: topic, log: log}, nil
}

func (k *Kafka) Name() string { return string(DriverKafka) }

func (k *Kafka) Publish(_ context.Context, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(env.Origin),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

func (k *Kafka) Subscribe(ctx context.Context, h Handler) error {
	ids, err := k.consumer.Partitions(k.topic)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	for _, id := range ids {
		pc, err := k.consumer.ConsumePartition(k.topic, id, sarama.OffsetNewest)
		if err != nil {
			return fmt.Errorf("consume partition %d: %w", id, err)
		}
		k.partitions = append(k.partitions, pc)

		go func(pc sarama.PartitionConsumer) {
			for msg := range pc.Messages() {
				env, err := Decode(msg.Value)
				if err != nil {
					k.log.Warn("discard malformed envelope", zap.Error(err))
					continue
				}
				h(ctx, env)
			}
		}(pc)
		go func(pc sarama.PartitionConsumer) {
			for err := range pc.Errors() {
				k.log.Warn("kafka consume error", zap.Error(err))
			}
		}(pc)
	}
	return nil
}

func (k *Kafka) Close() error {
	for _, pc := range k.partitions {
		pc.AsyncClose()
	}
	_ = k.consumer.Close()
	return k.producer.Close()
}
