package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"balancewatch/pkg/models"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// HistoryBucket 余额历史存储桶
const HistoryBucket = "balance_history"

// boltRow 存储桶中的行格式，大整数以十进制字符串保存
type boltRow struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Balance     string `json:"balance"`
	BlockNumber string `json:"block_number"`
}

// BoltStore 基于BoltDB的本地存储
type BoltStore struct {
	db     *bolt.DB
	logger *logrus.Logger
	path   string
}

// NewBoltStore 打开BoltDB存储
func NewBoltStore(path string, logger *logrus.Logger) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开历史数据库失败: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(HistoryBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建历史存储桶失败: %w", err)
	}

	logger.Infof("历史存储已初始化，数据库路径: %s", path)
	return &BoltStore{db: db, logger: logger, path: path}, nil
}

// Upsert 按ID替换写入，单个事务内完成
func (b *BoltStore) Upsert(ctx context.Context, sample *models.BalanceSample) error {
	if err := checkSample(sample); err != nil {
		return err
	}

	data, err := json.Marshal(boltRow{
		ID:          sample.ID,
		Timestamp:   strconv.FormatUint(sample.Timestamp, 10),
		Balance:     sample.Balance.String(),
		BlockNumber: strconv.FormatUint(sample.BlockNumber, 10),
	})
	if err != nil {
		return fmt.Errorf("序列化样本失败: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(HistoryBucket))
		if bucket == nil {
			return fmt.Errorf("历史存储桶不存在")
		}
		return bucket.Put([]byte(sample.ID), data)
	})
}

// Query 查询历史
func (b *BoltStore) Query(ctx context.Context, q Query) ([]*models.BalanceSample, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	var rows []*models.BalanceSample
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(HistoryBucket))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			sample, err := decodeBoltRow(v)
			if err != nil {
				return fmt.Errorf("解析样本 %s 失败: %w", string(k), err)
			}
			rows = append(rows, sample)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return applyQuery(rows, q), nil
}

// Count 全部记录数
func (b *BoltStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(HistoryBucket))
		if bucket == nil {
			return nil
		}
		count = int64(bucket.Stats().KeyN)
		return nil
	})
	return count, err
}

// Close 关闭存储
func (b *BoltStore) Close() error {
	if b.db != nil {
		b.logger.Info("关闭历史存储")
		return b.db.Close()
	}
	return nil
}

func decodeBoltRow(data []byte) (*models.BalanceSample, error) {
	var row boltRow
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}

	timestamp, err := strconv.ParseUint(row.Timestamp, 10, 64)
	if err != nil {
		return nil, err
	}
	blockNumber, err := strconv.ParseUint(row.BlockNumber, 10, 64)
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(row.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("无效的余额: %s", row.Balance)
	}

	return &models.BalanceSample{
		ID:          row.ID,
		Timestamp:   timestamp,
		Balance:     balance,
		BlockNumber: blockNumber,
	}, nil
}
