package chain

import (
	"context"
	"errors"
	"sort"
	"sync"

	"balancewatch/internal/config"

	"github.com/sirupsen/logrus"
)

// ErrChainNotSupported 链未配置
var ErrChainNotSupported = errors.New("chain not supported")

// DialFunc 按链配置创建余额来源
type DialFunc func(ctx context.Context, cfg *config.ChainConfig) (BalanceSource, error)

// dialCall 进行中的连接，同一条链的并发请求共享结果
type dialCall struct {
	done   chan struct{}
	source BalanceSource
	err    error
}

// Registry 按链ID管理余额来源，首次使用时才建立连接
type Registry struct {
	mu      sync.Mutex
	chains  map[int64]*config.ChainConfig
	sources map[int64]BalanceSource
	pending map[int64]*dialCall
	dial    DialFunc
	logger  *logrus.Logger
}

// NewRegistry 根据配置的链创建注册表
func NewRegistry(chains []*config.ChainConfig, logger *logrus.Logger) *Registry {
	r := &Registry{
		chains:  make(map[int64]*config.ChainConfig),
		sources: make(map[int64]BalanceSource),
		pending: make(map[int64]*dialCall),
		logger:  logger,
	}
	r.dial = func(ctx context.Context, cfg *config.ChainConfig) (BalanceSource, error) {
		return Dial(ctx, cfg, logger)
	}

	for _, chain := range chains {
		r.chains[chain.ChainID] = chain
	}
	return r
}

// SetDialer 替换连接函数
func (r *Registry) SetDialer(dial DialFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dial = dial
}

// Register 直接登记已建立的余额来源
func (r *Registry) Register(cfg *config.ChainConfig, source BalanceSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chains[cfg.ChainID] = cfg
	r.sources[cfg.ChainID] = source
}

// Source 获取链对应的余额来源
//
// 连接在锁外建立，慢连接只阻塞同一条链的请求。
func (r *Registry) Source(ctx context.Context, chainID int64) (BalanceSource, error) {
	r.mu.Lock()
	cfg, ok := r.chains[chainID]
	if !ok {
		r.mu.Unlock()
		return nil, ErrChainNotSupported
	}
	if source, ok := r.sources[chainID]; ok {
		r.mu.Unlock()
		return source, nil
	}
	if call, ok := r.pending[chainID]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.source, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &dialCall{done: make(chan struct{})}
	r.pending[chainID] = call
	dial := r.dial
	r.mu.Unlock()

	call.source, call.err = dial(ctx, cfg)

	r.mu.Lock()
	delete(r.pending, chainID)
	if call.err == nil {
		r.sources[chainID] = call.source
	} else {
		r.logger.WithFields(logrus.Fields{
			"chain_id": chainID,
			"error":    call.err,
		}).Warn("链连接失败")
	}
	r.mu.Unlock()
	close(call.done)

	return call.source, call.err
}

// Chains 已配置的链，按链ID排序
func (r *Registry) Chains() []*config.ChainConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	chains := make([]*config.ChainConfig, 0, len(r.chains))
	for _, chain := range r.chains {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].ChainID < chains[j].ChainID
	})
	return chains
}

// Close 关闭所有已建立的连接
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, source := range r.sources {
		if closer, ok := source.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(r.sources, id)
	}
	r.logger.Debug("链连接已全部关闭")
}
