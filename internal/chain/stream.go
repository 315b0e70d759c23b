package chain

import (
	"context"
	"math/big"
	"time"

	"balancewatch/pkg/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval   = 2 * time.Second
	defaultResubscribeGap = 3 * time.Second
)

// BlockSource 新区块通知来源
type BlockSource interface {
	Stream(ctx context.Context) <-chan models.BlockHeader
}

// HeaderReader 轮询所需的节点接口
type HeaderReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// HeadSubscriber 订阅所需的节点接口
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// NewBlockSource 根据RPC地址选择订阅或轮询
func NewBlockSource(client *Client, interval time.Duration, start uint64, logger *logrus.Logger) BlockSource {
	if IsWebSocket(client.Config.URL) {
		logger.Infof("使用WebSocket订阅新区块: %s", client.Config.Name)
		return NewSubscriber(client, logger)
	}
	logger.Infof("使用轮询方式获取新区块: %s, 间隔 %v", client.Config.Name, interval)
	return NewPoller(client, interval, start, logger)
}

// Poller 轮询新区块
//
// 起始高度为0时从当前链头开始；区块头获取失败时在下一轮重试同一高度。
type Poller struct {
	reader   HeaderReader
	interval time.Duration
	next     uint64
	logger   *logrus.Logger
}

// NewPoller 创建轮询器
func NewPoller(reader HeaderReader, interval time.Duration, start uint64, logger *logrus.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		reader:   reader,
		interval: interval,
		next:     start,
		logger:   logger,
	}
}

// Stream 按高度递增输出区块头，ctx取消后关闭通道
func (p *Poller) Stream(ctx context.Context) <-chan models.BlockHeader {
	out := make(chan models.BlockHeader)
	go p.run(ctx, out)
	return out
}

func (p *Poller) run(ctx context.Context, out chan<- models.BlockHeader) {
	defer close(out)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if !p.poll(ctx, out) {
			p.logger.Info("区块轮询已停止")
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.logger.Info("区块轮询已停止")
			return
		}
	}
}

// poll 处理一轮新区块，ctx取消时返回false
func (p *Poller) poll(ctx context.Context, out chan<- models.BlockHeader) bool {
	latest, err := p.reader.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Errorf("获取最新区块号失败: %v", err)
		return true
	}

	if p.next == 0 {
		p.next = latest
		p.logger.Infof("开始监听新区块，当前区块: %d", latest)
	}

	for ; p.next <= latest; p.next++ {
		header, err := p.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(p.next))
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			p.logger.Warnf("获取区块 %d 头失败，下一轮重试: %v", p.next, err)
			return true
		}

		select {
		case out <- models.NewBlockHeader(header):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Subscriber 通过 eth_subscribe 接收新区块，断开后自动重新订阅
type Subscriber struct {
	sub    HeadSubscriber
	retry  time.Duration
	logger *logrus.Logger
}

// NewSubscriber 创建订阅器
func NewSubscriber(sub HeadSubscriber, logger *logrus.Logger) *Subscriber {
	return &Subscriber{sub: sub, retry: defaultResubscribeGap, logger: logger}
}

// Stream 输出订阅到的区块头，ctx取消后关闭通道
func (s *Subscriber) Stream(ctx context.Context) <-chan models.BlockHeader {
	out := make(chan models.BlockHeader)
	go s.run(ctx, out)
	return out
}

func (s *Subscriber) run(ctx context.Context, out chan<- models.BlockHeader) {
	defer close(out)

	for {
		err := s.consume(ctx, out)
		if ctx.Err() != nil {
			s.logger.Info("区块订阅已停止")
			return
		}
		s.logger.Warnf("区块订阅中断，%v 后重新订阅: %v", s.retry, err)

		select {
		case <-time.After(s.retry):
		case <-ctx.Done():
			s.logger.Info("区块订阅已停止")
			return
		}
	}
}

// consume 建立一次订阅并转发区块头，直到订阅出错或ctx取消
func (s *Subscriber) consume(ctx context.Context, out chan<- models.BlockHeader) error {
	headers := make(chan *types.Header, 16)
	sub, err := s.sub.SubscribeNewHead(ctx, headers)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	s.logger.Info("已订阅新区块")
	for {
		select {
		case err := <-sub.Err():
			return err
		case header := <-headers:
			select {
			case out <- models.NewBlockHeader(header):
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
