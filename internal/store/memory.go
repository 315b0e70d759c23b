package store

import (
	"context"
	"sync"

	"balancewatch/pkg/models"
)

// MemoryStore 内存存储，用于测试和临时运行
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*models.BalanceSample
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*models.BalanceSample),
	}
}

// Upsert 按ID替换写入
func (m *MemoryStore) Upsert(ctx context.Context, sample *models.BalanceSample) error {
	if err := checkSample(sample); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[sample.ID] = cloneSample(sample)
	return nil
}

// Query 查询历史
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]*models.BalanceSample, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	m.mu.RLock()
	rows := make([]*models.BalanceSample, 0, len(m.rows))
	for _, row := range m.rows {
		rows = append(rows, cloneSample(row))
	}
	m.mu.RUnlock()

	return applyQuery(rows, q), nil
}

// Count 全部记录数
func (m *MemoryStore) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rows)), nil
}

// Close 关闭存储
func (m *MemoryStore) Close() error {
	return nil
}
