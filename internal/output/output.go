package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"balancewatch/internal/config"
	"balancewatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// Publisher 样本写入存储后的下游发布
type Publisher interface {
	PublishSample(sample *models.BalanceSample) error
	Close() error
}

// NewPublisher 根据输出配置创建发布器
func NewPublisher(cfg *config.OutputConfig, logger *logrus.Logger) (Publisher, error) {
	switch cfg.Format {
	case config.OutputNone, "":
		return NoopOutput{}, nil
	case config.OutputJSON:
		return NewFileOutput(cfg.Directory, logger)
	case config.OutputKafka:
		if cfg.Kafka == nil {
			return nil, fmt.Errorf("Kafka输出缺少配置")
		}
		return NewKafkaOutput(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// NoopOutput 不发布
type NoopOutput struct{}

func (NoopOutput) PublishSample(*models.BalanceSample) error { return nil }
func (NoopOutput) Close() error                              { return nil }

// FileOutput 以JSON Lines追加写入样本
type FileOutput struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	logger *logrus.Logger
}

// NewFileOutput 在目录下创建带时间戳的样本文件
func NewFileOutput(outputDir string, logger *logrus.Logger) (*FileOutput, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(outputDir, fmt.Sprintf("balance_samples_%s.json", timestamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建样本文件失败: %w", err)
	}

	logger.Infof("样本输出文件: %s", path)
	return &FileOutput{path: path, file: file, logger: logger}, nil
}

// Path 输出文件路径
func (o *FileOutput) Path() string {
	return o.path
}

// PublishSample 写入一行样本
func (o *FileOutput) PublishSample(sample *models.BalanceSample) error {
	if sample == nil {
		return nil
	}

	data, err := json.Marshal(sample.ToKafkaMessage())
	if err != nil {
		return fmt.Errorf("序列化样本失败: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("写入样本文件失败: %w", err)
	}
	return o.file.Sync()
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	return err
}
