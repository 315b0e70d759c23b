package output

import (
	"encoding/json"
	"fmt"
	"time"

	"balancewatch/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.SyncProducer
}

// NewProducerConfig 同步生产者配置
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topic string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v, topic: %s", brokers, topic)

	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topic, logger), nil
}

// NewKafkaOutputWithProducer 使用已有生产者
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topic string, logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{logger: logger, topic: topic, producer: producer}
}

// PublishSample 以样本ID为key发送，同一样本重复投递落在同一分区
func (k *KafkaOutput) PublishSample(sample *models.BalanceSample) error {
	if sample == nil {
		return nil
	}

	data, err := json.Marshal(sample.ToKafkaMessage())
	if err != nil {
		return fmt.Errorf("序列化样本失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(sample.ID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("成功发送样本到Kafka topic '%s' (partition: %d, offset: %d): %s",
		k.topic, partition, offset, sample.ID)
	return nil
}

// Close 关闭生产者
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		k.logger.Info("关闭Kafka生产者")
		return k.producer.Close()
	}
	return nil
}
