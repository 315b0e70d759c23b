package progress

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	DefaultDBPath = "./data/progress.db"

	ProgressBucket = "progress"

	LastSampledBlockKey = "last_sampled_block"
	AccountKey          = "account"
	LastUpdateTimeKey   = "last_update_time"
)

// ProgressInfo 采样进度
type ProgressInfo struct {
	Account          string    `json:"account"`
	LastSampledBlock uint64    `json:"last_sampled_block"`
	LastUpdateTime   time.Time `json:"last_update_time"`
	StartTime        time.Time `json:"start_time"`      // 本次进程开始时间
	SessionSamples   uint64    `json:"session_samples"` // 本次进程写入的样本数
	SamplingRate     float64   `json:"sampling_rate"`   // 区块/秒
}

// Manager 进度管理器
//
// 只记录最高的已采样区块号，重启后从下一个区块继续。
type Manager struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	cache *ProgressInfo
}

// NewManager 创建进度管理器
func NewManager(dbPath string, logger *logrus.Logger) (*Manager, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开进度数据库失败: %w", err)
	}

	m := &Manager{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		cache:  &ProgressInfo{StartTime: time.Now()},
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(ProgressBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建进度存储桶失败: %w", err)
	}

	if err := m.loadCache(); err != nil {
		logger.Warnf("加载进度缓存失败: %v", err)
	}

	logger.Infof("进度管理器已初始化，数据库路径: %s", dbPath)
	return m, nil
}

func (m *Manager) loadCache() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))

		if data := bucket.Get([]byte(LastSampledBlockKey)); len(data) == 8 {
			m.cache.LastSampledBlock = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(AccountKey)); data != nil {
			m.cache.Account = string(data)
		}
		if data := bucket.Get([]byte(LastUpdateTimeKey)); data != nil {
			var t time.Time
			if err := t.UnmarshalText(data); err == nil {
				m.cache.LastUpdateTime = t
			}
		}
		return nil
	})
}

// BindAccount 绑定跟踪地址，地址变化时清空旧进度
func (m *Manager) BindAccount(account string) error {
	account = strings.ToLower(account)

	m.mu.Lock()
	previous := m.cache.Account
	m.mu.Unlock()

	if previous == account {
		return nil
	}
	if previous != "" {
		m.logger.Warnf("跟踪地址由 %s 变更为 %s，重置采样进度", previous, account)
		if err := m.Reset(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Account = account
	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(ProgressBucket)).Put([]byte(AccountKey), []byte(account))
	})
}

// GetLastSampledBlock 最后采样的区块号，0 表示没有记录
func (m *Manager) GetLastSampledBlock() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.LastSampledBlock
}

// ResumeBlock 断点续传的起始区块
func (m *Manager) ResumeBlock(configStart uint64) uint64 {
	last := m.GetLastSampledBlock()
	if last == 0 || last+1 < configStart {
		return configStart
	}
	return last + 1
}

// UpdateProgress 记录已采样区块，只向前推进
func (m *Manager) UpdateProgress(blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.cache.SessionSamples++
	if elapsed := now.Sub(m.cache.StartTime).Seconds(); elapsed > 0 {
		m.cache.SamplingRate = float64(m.cache.SessionSamples) / elapsed
	}

	if blockNumber <= m.cache.LastSampledBlock {
		return nil
	}
	m.cache.LastSampledBlock = blockNumber
	m.cache.LastUpdateTime = now

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))

		blockData := make([]byte, 8)
		binary.BigEndian.PutUint64(blockData, blockNumber)
		if err := bucket.Put([]byte(LastSampledBlockKey), blockData); err != nil {
			return fmt.Errorf("保存区块号失败: %w", err)
		}

		timeData, err := now.MarshalText()
		if err != nil {
			return err
		}
		return bucket.Put([]byte(LastUpdateTimeKey), timeData)
	})
}

// GetProgress 进度副本
func (m *Manager) GetProgress() ProgressInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cache
}

// Reset 清空已保存的进度
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = &ProgressInfo{StartTime: time.Now()}

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))
		for _, key := range []string{LastSampledBlockKey, AccountKey, LastUpdateTimeKey} {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDBPath 数据库路径
func (m *Manager) GetDBPath() string {
	return m.dbPath
}

// GetStats 统计信息
func (m *Manager) GetStats() map[string]interface{} {
	info := m.GetProgress()

	stats := map[string]interface{}{
		"account":            info.Account,
		"last_sampled_block": info.LastSampledBlock,
		"session_samples":    info.SessionSamples,
		"sampling_rate":      fmt.Sprintf("%.2f blocks/sec", info.SamplingRate),
		"running_duration":   time.Since(info.StartTime).Truncate(time.Second).String(),
	}
	if !info.LastUpdateTime.IsZero() {
		stats["last_update_time"] = info.LastUpdateTime.Format(time.RFC3339)
	}
	return stats
}

// Close 关闭进度管理器
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Info("关闭进度管理器")
		return m.db.Close()
	}
	return nil
}
