package models

import (
	"fmt"
	"math/big"
	"time"
)

// SetupSampleID 启动时初始余额样本的固定ID，每次重启覆盖同一行
const SetupSampleID = "initial_balance"

// isoMillisLayout 与 JavaScript Date.toISOString 一致的输出格式
const isoMillisLayout = "2006-01-02T15:04:05.000Z"

// BalanceSample 余额历史样本
type BalanceSample struct {
	ID          string   `json:"id"`
	Timestamp   uint64   `json:"timestamp"`    // 秒级时间戳
	Balance     *big.Int `json:"balance"`      // 原生币最小单位
	BlockNumber uint64   `json:"block_number"` // 0 保留给启动样本
}

// SampleID 由区块号和区块时间戳派生样本ID
//
// 十进制加分隔符保证不同 (number, timestamp) 组合得到不同的ID，
// 同一区块重复投递得到相同ID。
func SampleID(blockNumber, timestamp uint64) string {
	return fmt.Sprintf("%d-%d", blockNumber, timestamp)
}

// NewBlockSample 创建区块触发的余额样本
func NewBlockSample(block BlockHeader, balance *big.Int) *BalanceSample {
	return &BalanceSample{
		ID:          SampleID(block.Number, block.Timestamp),
		Timestamp:   block.Timestamp,
		Balance:     copyBalance(balance),
		BlockNumber: block.Number,
	}
}

// NewSetupSample 创建启动时的余额样本
func NewSetupSample(now time.Time, balance *big.Int) *BalanceSample {
	return &BalanceSample{
		ID:          SetupSampleID,
		Timestamp:   uint64(now.Unix()),
		Balance:     copyBalance(balance),
		BlockNumber: 0,
	}
}

// copyBalance nil 保持为 nil，交由校验拒绝
func copyBalance(balance *big.Int) *big.Int {
	if balance == nil {
		return nil
	}
	return new(big.Int).Set(balance)
}

// IsSetup 是否为启动样本
func (s *BalanceSample) IsSetup() bool {
	return s.BlockNumber == 0
}

// Time 样本时间
func (s *BalanceSample) Time() time.Time {
	return time.Unix(int64(s.Timestamp), 0).UTC()
}

// Date ISO-8601 格式的样本日期
func (s *BalanceSample) Date() string {
	return s.Time().Format(isoMillisLayout)
}

// BalanceString 十进制余额字符串
func (s *BalanceSample) BalanceString() string {
	if s.Balance == nil {
		return "0"
	}
	return s.Balance.String()
}

// ToKafkaMessage 转换为Kafka消息格式
//
// 大整数一律以十进制字符串输出，避免下游精度丢失。
func (s *BalanceSample) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"id":           s.ID,
		"timestamp":    fmt.Sprintf("%d", s.Timestamp),
		"balance":      s.BalanceString(),
		"block_number": fmt.Sprintf("%d", s.BlockNumber),
		"date":         s.Date(),
	}
}
