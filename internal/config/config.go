package config

import (
	"fmt"
	"strings"
	"time"

	"balancewatch/internal/logging"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 BALANCEWATCH_NETWORK_RPC_URL
const EnvPrefix = "BALANCEWATCH"

// Config 主配置，启动时构建一次后只读传递
type Config struct {
	Network  *NetworkConfig     `mapstructure:"network"`
	Account  *AccountConfig     `mapstructure:"account"`
	Chains   []*ChainConfig     `mapstructure:"chains"`
	Store    *StoreConfig       `mapstructure:"store"`
	Stream   *StreamConfig      `mapstructure:"stream"`
	Progress *ProgressConfig    `mapstructure:"progress"`
	Output   *OutputConfig      `mapstructure:"output"`
	API      *APIConfig         `mapstructure:"api"`
	Logging  *logging.LogConfig `mapstructure:"logging"`
}

// NetworkConfig 被跟踪的网络
type NetworkConfig struct {
	Name    string `mapstructure:"name"`
	ChainID int64  `mapstructure:"chain_id"`
	RPCURL  string `mapstructure:"rpc_url"`
}

// AccountConfig 被跟踪的账户
type AccountConfig struct {
	Address    string `mapstructure:"address"`
	StartBlock uint64 `mapstructure:"start_block"`
}

// ChainConfig 实时余额查询可用的链
type ChainConfig struct {
	ChainID int64  `mapstructure:"chain_id"`
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
}

// StoreConfig 历史存储配置
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // postgres, bolt, memory
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`
}

// StreamConfig 区块流配置
type StreamConfig struct {
	PollInterval string `mapstructure:"poll_interval"`
	Workers      int    `mapstructure:"workers"`
}

// ProgressConfig 进度检查点配置
type ProgressConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// OutputConfig 样本发布配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, json, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// APIConfig 查询服务配置
type APIConfig struct {
	Port int `mapstructure:"port"`
}

// 存储驱动
const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
)

// 输出格式
const (
	OutputNone  = "none"
	OutputJSON  = "json"
	OutputKafka = "kafka"
)

// LoadConfig 从YAML文件加载配置，环境变量可覆盖
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Resolve(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 注册默认值，同时让AutomaticEnv能识别全部键
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("network.name", d.Network.Name)
	v.SetDefault("network.chain_id", d.Network.ChainID)
	v.SetDefault("network.rpc_url", d.Network.RPCURL)
	v.SetDefault("account.address", d.Account.Address)
	v.SetDefault("account.start_block", d.Account.StartBlock)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("stream.poll_interval", d.Stream.PollInterval)
	v.SetDefault("stream.workers", d.Stream.Workers)
	v.SetDefault("progress.enabled", d.Progress.Enabled)
	v.SetDefault("progress.path", d.Progress.Path)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.directory", d.Output.Directory)
	v.SetDefault("output.kafka.brokers", d.Output.Kafka.Brokers)
	v.SetDefault("output.kafka.topic", d.Output.Kafka.Topic)
	v.SetDefault("api.port", d.API.Port)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// Resolve 校验配置并补全派生字段
func (c *Config) Resolve() error {
	d := GetDefaultConfig()
	if c.Network == nil {
		c.Network = d.Network
	}
	if c.Account == nil {
		c.Account = d.Account
	}
	if c.Store == nil {
		c.Store = d.Store
	}
	if c.Stream == nil {
		c.Stream = d.Stream
	}
	if c.Progress == nil {
		c.Progress = d.Progress
	}
	if c.Output == nil {
		c.Output = d.Output
	}
	if c.Output.Kafka == nil {
		c.Output.Kafka = d.Output.Kafka
	}
	if c.API == nil {
		c.API = d.API
	}
	if c.Logging == nil {
		c.Logging = d.Logging
	}

	if err := c.Validate(); err != nil {
		return err
	}

	// 跟踪网络总是可用于实时查询
	if c.Chain(c.Network.ChainID) == nil {
		c.Chains = append(c.Chains, &ChainConfig{
			ChainID: c.Network.ChainID,
			Name:    c.Network.Name,
			URL:     c.Network.RPCURL,
		})
	}

	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Network.RPCURL == "" {
		return fmt.Errorf("网络 %s 的RPC地址不能为空", c.Network.Name)
	}
	if c.Network.ChainID <= 0 {
		return fmt.Errorf("无效的链ID: %d", c.Network.ChainID)
	}
	if !common.IsHexAddress(c.Account.Address) {
		return fmt.Errorf("无效的跟踪地址: %s", c.Account.Address)
	}

	seen := make(map[int64]bool)
	for i, chain := range c.Chains {
		if chain == nil {
			return fmt.Errorf("链配置 %d 为空", i)
		}
		if chain.URL == "" {
			return fmt.Errorf("链 %d 的URL不能为空", chain.ChainID)
		}
		if seen[chain.ChainID] {
			return fmt.Errorf("重复的链ID: %d", chain.ChainID)
		}
		seen[chain.ChainID] = true
	}

	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("postgres存储需要配置dsn")
		}
	case DriverBolt:
		if c.Store.Path == "" {
			return fmt.Errorf("bolt存储需要配置path")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("不支持的存储驱动: %s", c.Store.Driver)
	}

	switch c.Output.Format {
	case OutputNone, "", OutputJSON:
	case OutputKafka:
		if len(c.Output.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka输出需要至少一个broker")
		}
	default:
		return fmt.Errorf("不支持的输出格式: %s", c.Output.Format)
	}

	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if c.Stream.Workers <= 0 {
		return fmt.Errorf("工作协程数必须大于0，当前值: %d", c.Stream.Workers)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("无效的API端口: %d", c.API.Port)
	}

	return nil
}

// TrackedAddress 被跟踪账户地址
func (c *Config) TrackedAddress() common.Address {
	return common.HexToAddress(c.Account.Address)
}

// PollInterval 区块轮询间隔
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Stream.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("无效的轮询间隔 '%s': %w", c.Stream.PollInterval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("轮询间隔必须大于0")
	}
	return d, nil
}

// Chain 按链ID查找链配置
func (c *Config) Chain(chainID int64) *ChainConfig {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain
		}
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Network: &NetworkConfig{
			Name:    "sonic",
			ChainID: 146,
			RPCURL:  "", // 需要在YAML配置或环境变量中指定
		},
		Account: &AccountConfig{
			Address:    "0x2f7397fd2d49e5b636ef44503771b17eded67620",
			StartBlock: 20137913,
		},
		Store: &StoreConfig{
			Driver: DriverBolt,
			Path:   "./data/history.db",
		},
		Stream: &StreamConfig{
			PollInterval: "2s",
			Workers:      1,
		},
		Progress: &ProgressConfig{
			Enabled: true,
			Path:    "./data/progress.db",
		},
		Output: &OutputConfig{
			Format:    OutputNone,
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "balance_samples",
			},
		},
		API: &APIConfig{
			Port: 8080,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
