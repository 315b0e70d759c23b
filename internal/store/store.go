package store

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"balancewatch/internal/config"
	"balancewatch/internal/retry"
	"balancewatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// Field 可排序字段
type Field string

const (
	FieldTimestamp Field = "timestamp"
	FieldBalance   Field = "balance"
)

// Query 历史查询条件
type Query struct {
	OrderBy      Field
	Ascending    bool
	Limit        int     // 0 表示不限制
	Offset       int
	MinTimestamp *uint64 // timestamp >= MinTimestamp
}

// Store 余额历史存储
//
// Upsert 按ID替换写入；记录只追加，不提供删除。
type Store interface {
	Upsert(ctx context.Context, sample *models.BalanceSample) error
	Query(ctx context.Context, q Query) ([]*models.BalanceSample, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Open 根据配置打开存储
func Open(ctx context.Context, cfg *config.StoreConfig, logger *logrus.Logger) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		var s *PostgresStore
		err := retry.NewRetrier(retry.CriticalRetryConfig, logger).Execute(ctx, "open_postgres", func() error {
			var err error
			s, err = NewPostgresStore(ctx, cfg.DSN, logger)
			return err
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverBolt:
		return NewBoltStore(cfg.Path, logger)
	case config.DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %s", cfg.Driver)
	}
}

// validateQuery 校验查询条件
func validateQuery(q Query) error {
	switch q.OrderBy {
	case FieldTimestamp, FieldBalance, "":
	default:
		return fmt.Errorf("不支持的排序字段: %s", q.OrderBy)
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("limit和offset不能为负数")
	}
	return nil
}

// less 按查询条件比较两条记录，ID作为最终排序键保证分页稳定
func less(q Query, a, b *models.BalanceSample) bool {
	var cmp int
	switch q.OrderBy {
	case FieldBalance:
		cmp = a.Balance.Cmp(b.Balance)
		if cmp == 0 {
			cmp = compareUint64(a.Timestamp, b.Timestamp)
		}
	default:
		cmp = compareUint64(a.Timestamp, b.Timestamp)
	}
	if cmp == 0 {
		switch {
		case a.ID < b.ID:
			cmp = -1
		case a.ID > b.ID:
			cmp = 1
		}
	}
	if q.Ascending {
		return cmp < 0
	}
	return cmp > 0
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// applyQuery 在内存中过滤、排序、分页
func applyQuery(rows []*models.BalanceSample, q Query) []*models.BalanceSample {
	filtered := make([]*models.BalanceSample, 0, len(rows))
	for _, row := range rows {
		if q.MinTimestamp != nil && row.Timestamp < *q.MinTimestamp {
			continue
		}
		filtered = append(filtered, row)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return less(q, filtered[i], filtered[j])
	})

	if q.Offset >= len(filtered) {
		return []*models.BalanceSample{}
	}
	filtered = filtered[q.Offset:]
	if q.Limit > 0 && q.Limit < len(filtered) {
		filtered = filtered[:q.Limit]
	}
	return filtered
}

// cloneSample 拷贝样本，避免调用方修改存储内数据
func cloneSample(s *models.BalanceSample) *models.BalanceSample {
	cp := *s
	if s.Balance != nil {
		cp.Balance = new(big.Int).Set(s.Balance)
	}
	return &cp
}

// checkSample 写入前的最低限度检查
func checkSample(s *models.BalanceSample) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("样本ID不能为空")
	}
	if s.Balance == nil {
		return fmt.Errorf("样本 %s 缺少余额", s.ID)
	}
	return nil
}
