package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"balancewatch/internal/chain"
	"balancewatch/internal/config"
	"balancewatch/internal/errors"
	"balancewatch/internal/logging"
	"balancewatch/internal/output"
	"balancewatch/internal/store"
	"balancewatch/internal/validation"
	"balancewatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// Checkpointer 记录已采样的区块
type Checkpointer interface {
	UpdateProgress(blockNumber uint64) error
}

// Dependencies 采样管道依赖
type Dependencies struct {
	Source    chain.BalanceSource
	Store     store.Store
	Publisher output.Publisher     // 可选
	Progress  Checkpointer         // 可选
	Errors    *errors.ErrorHandler // 可选
}

// Pipeline 余额采样管道
type Pipeline struct {
	account   common.Address
	workers   int
	source    chain.BalanceSource
	store     store.Store
	publisher output.Publisher
	progress  Checkpointer
	validator *validation.Validator
	errors    *errors.ErrorHandler
	logger    *logrus.Logger
	now       func() time.Time

	processed atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
}

// NewPipeline 创建采样管道
func NewPipeline(cfg *config.Config, deps Dependencies, logger *logrus.Logger) (*Pipeline, error) {
	if cfg == nil || cfg.Account == nil {
		return nil, fmt.Errorf("账户配置不能为空")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("余额来源不能为空")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("存储不能为空")
	}
	if logger == nil {
		return nil, fmt.Errorf("日志器不能为空")
	}

	workers := 1
	if cfg.Stream != nil && cfg.Stream.Workers > 0 {
		workers = cfg.Stream.Workers
	}

	p := &Pipeline{
		account:   cfg.TrackedAddress(),
		workers:   workers,
		source:    deps.Source,
		store:     deps.Store,
		publisher: deps.Publisher,
		progress:  deps.Progress,
		validator: validation.NewValidator(logger),
		errors:    deps.Errors,
		logger:    logger,
		now:       time.Now,
	}
	if p.publisher == nil {
		p.publisher = output.NoopOutput{}
	}
	if p.errors == nil {
		p.errors = errors.NewErrorHandler(logger)
	}
	return p, nil
}

// SetClock 替换时钟
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Errors 错误处理器
func (p *Pipeline) Errors() *errors.ErrorHandler {
	return p.errors
}

// HandleSetup 启动时记录一次当前余额，失败时应终止启动
func (p *Pipeline) HandleSetup(ctx context.Context) error {
	balance, err := p.source.BalanceAt(ctx, p.account, nil)
	if err != nil {
		return p.errors.HandleError(ctx, errors.NewStartupError(err, "INITIAL_BALANCE_FAILED", "查询初始余额失败").
			WithContext("account", p.account.Hex()))
	}

	sample := models.NewSetupSample(p.now(), balance)
	if err := p.validator.ValidateSample(sample).Err(); err != nil {
		return p.errors.HandleError(ctx, errors.NewStartupError(err, "INITIAL_SAMPLE_INVALID", "初始余额样本无效"))
	}
	if err := p.store.Upsert(ctx, sample); err != nil {
		return p.errors.HandleError(ctx, errors.NewStartupError(err, "INITIAL_SAMPLE_WRITE_FAILED", "写入初始余额失败"))
	}

	p.publish(ctx, sample)
	p.logger.WithFields(logrus.Fields{
		"account": p.account.Hex(),
		"balance": sample.BalanceString(),
	}).Info("初始余额已记录")
	return nil
}

// HandleBlock 在指定区块高度查询余额并写入，失败时不写入任何记录
func (p *Pipeline) HandleBlock(ctx context.Context, block models.BlockHeader) error {
	entry := logging.BlockEntry(p.logger, block.Number)

	balance, err := p.source.BalanceAt(ctx, p.account, block.BigNumber())
	if err != nil {
		return p.fail(ctx, errors.NewIngestionError(err, block.Number, "BALANCE_FETCH_FAILED", "查询区块余额失败"))
	}

	sample := models.NewBlockSample(block, balance)
	if err := p.validator.ValidateSample(sample).Err(); err != nil {
		return p.fail(ctx, errors.NewIngestionError(err, block.Number, "SAMPLE_INVALID", "余额样本无效"))
	}
	if err := p.store.Upsert(ctx, sample); err != nil {
		return p.fail(ctx, errors.NewIngestionError(err, block.Number, "SAMPLE_WRITE_FAILED", "写入余额样本失败"))
	}

	p.processed.Add(1)
	p.publish(ctx, sample)

	if p.progress != nil {
		if err := p.progress.UpdateProgress(block.Number); err != nil {
			entry.Warnf("更新进度失败: %v", err)
		}
	}

	entry.WithField("balance", sample.BalanceString()).Info("区块余额已记录")
	return nil
}

func (p *Pipeline) fail(ctx context.Context, err *errors.WatchError) error {
	p.failed.Add(1)
	return p.errors.HandleError(ctx, err)
}

// publish 发布失败只记录，不影响采样
func (p *Pipeline) publish(ctx context.Context, sample *models.BalanceSample) {
	if err := p.publisher.PublishSample(sample); err != nil {
		werr := errors.WrapError(err, errors.ErrorTypePublish, errors.SeverityLow, "PUBLISH_FAILED", "发布样本失败").
			WithComponent("output").
			WithContext("sample_id", sample.ID)
		p.errors.HandleError(ctx, werr)
		return
	}
	p.published.Add(1)
}

// Run 并发消费区块通知，通道关闭或ctx取消时返回
func (p *Pipeline) Run(ctx context.Context, blocks <-chan models.BlockHeader) error {
	p.logger.Infof("开始采样，账户: %s, 并发数: %d", p.account.Hex(), p.workers)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, blocks, &wg)
	}
	wg.Wait()

	p.logger.Infof("采样已停止，成功: %d, 失败: %d", p.processed.Load(), p.failed.Load())
	return ctx.Err()
}

func (p *Pipeline) worker(ctx context.Context, blocks <-chan models.BlockHeader, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case block, ok := <-blocks:
			if !ok {
				return
			}
			// 单个区块失败已在HandleBlock中记录
			_ = p.HandleBlock(ctx, block)
		case <-ctx.Done():
			return
		}
	}
}

// GetStats 采样统计
func (p *Pipeline) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"account":           p.account.Hex(),
		"workers":           p.workers,
		"processed_blocks":  p.processed.Load(),
		"failed_blocks":     p.failed.Load(),
		"published_samples": p.published.Load(),
	}
}
