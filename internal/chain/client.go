package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"balancewatch/internal/config"
	"balancewatch/internal/logging"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

const dialTimeout = 10 * time.Second

// BalanceSource 按区块查询账户原生币余额，blockNumber 为 nil 时查询最新区块
type BalanceSource interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client 单条链的RPC客户端
type Client struct {
	*ethclient.Client
	Config *config.ChainConfig
	logger *logrus.Logger
}

// Dial 连接节点并核对链ID
func Dial(ctx context.Context, cfg *config.ChainConfig, logger *logrus.Logger) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接节点 %s 失败: %w", cfg.Name, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("测试节点 %s 连接失败: %w", cfg.Name, err)
	}
	if !chainID.IsInt64() || chainID.Int64() != cfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("节点 %s 链ID不匹配: 期望 %d, 实际 %s", cfg.Name, cfg.ChainID, chainID)
	}

	logger.Infof("成功连接到节点: %s (chain_id=%d)", cfg.Name, cfg.ChainID)
	return &Client{Client: client, Config: cfg, logger: logger}, nil
}

// BalanceAt 查询余额
func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	balance, err := c.Client.BalanceAt(ctx, account, blockNumber)
	if err != nil {
		entry := logging.RPCEntry(c.logger, "eth_getBalance", c.Config.ChainID)
		if blockNumber != nil {
			entry = entry.WithField("block_number", blockNumber.String())
		}
		entry.WithError(err).Debug("余额查询失败")
		return nil, err
	}
	return balance, nil
}

// IsWebSocket 判断RPC地址是否支持订阅
func IsWebSocket(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://")
}
