package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"balancewatch/pkg/models"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// schemaSQL 余额历史表结构
//
// NUMERIC(78,0) 足以容纳任意256位无符号整数；时间戳和区块号按uint64存放。
const schemaSQL = `
CREATE TABLE IF NOT EXISTS balance_history (
	id           TEXT PRIMARY KEY,
	timestamp    NUMERIC(20,0) NOT NULL,
	balance      NUMERIC(78,0) NOT NULL,
	block_number NUMERIC(20,0) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_balance_history_timestamp ON balance_history (timestamp);
CREATE INDEX IF NOT EXISTS idx_balance_history_balance ON balance_history (balance);
`

const upsertSQL = `
INSERT INTO balance_history (id, timestamp, balance, block_number)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id)
DO UPDATE SET timestamp = EXCLUDED.timestamp, balance = EXCLUDED.balance, block_number = EXCLUDED.block_number
`

// PostgresStore PostgreSQL存储
type PostgresStore struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewPostgresStore 连接PostgreSQL并初始化表结构
func NewPostgresStore(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}

	logger.Info("PostgreSQL历史存储已初始化")
	return &PostgresStore{DB: db, logger: logger}, nil
}

// Upsert 按ID替换写入
func (p *PostgresStore) Upsert(ctx context.Context, sample *models.BalanceSample) error {
	if err := checkSample(sample); err != nil {
		return err
	}

	_, err := p.DB.ExecContext(ctx, upsertSQL,
		sample.ID,
		strconv.FormatUint(sample.Timestamp, 10),
		sample.Balance.String(),
		strconv.FormatUint(sample.BlockNumber, 10),
	)
	if err != nil {
		return fmt.Errorf("写入样本 %s 失败: %w", sample.ID, err)
	}
	return nil
}

// buildSelect 构造查询语句和参数
func buildSelect(q Query) (string, []interface{}) {
	var (
		sb   strings.Builder
		args []interface{}
	)

	sb.WriteString("SELECT id, timestamp, balance, block_number FROM balance_history")

	if q.MinTimestamp != nil {
		args = append(args, strconv.FormatUint(*q.MinTimestamp, 10))
		fmt.Fprintf(&sb, " WHERE timestamp >= $%d", len(args))
	}

	direction := "DESC"
	if q.Ascending {
		direction = "ASC"
	}
	// id按字节序比较，与内存和bolt驱动一致
	switch q.OrderBy {
	case FieldBalance:
		fmt.Fprintf(&sb, ` ORDER BY balance %[1]s, timestamp %[1]s, id COLLATE "C" %[1]s`, direction)
	default:
		fmt.Fprintf(&sb, ` ORDER BY timestamp %[1]s, id COLLATE "C" %[1]s`, direction)
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	return sb.String(), args
}

// Query 查询历史
func (p *PostgresStore) Query(ctx context.Context, q Query) ([]*models.BalanceSample, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	query, args := buildSelect(q)
	rows, err := p.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询余额历史失败: %w", err)
	}
	defer rows.Close()

	samples := make([]*models.BalanceSample, 0)
	for rows.Next() {
		var id, timestamp, balance, blockNumber string
		if err := rows.Scan(&id, &timestamp, &balance, &blockNumber); err != nil {
			return nil, fmt.Errorf("读取余额历史失败: %w", err)
		}

		sample, err := parseRow(id, timestamp, balance, blockNumber)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}

	return samples, rows.Err()
}

// Count 全部记录数
func (p *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := p.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM balance_history").Scan(&count); err != nil {
		return 0, fmt.Errorf("统计余额历史失败: %w", err)
	}
	return count, nil
}

// Close 关闭数据库连接
func (p *PostgresStore) Close() error {
	if p.DB != nil {
		return p.DB.Close()
	}
	return nil
}

func parseRow(id, timestamp, balance, blockNumber string) (*models.BalanceSample, error) {
	ts, err := strconv.ParseUint(timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("样本 %s 时间戳无效: %w", id, err)
	}
	bn, err := strconv.ParseUint(blockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("样本 %s 区块号无效: %w", id, err)
	}
	bal, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, fmt.Errorf("样本 %s 余额无效: %s", id, balance)
	}

	return &models.BalanceSample{ID: id, Timestamp: ts, Balance: bal, BlockNumber: bn}, nil
}
