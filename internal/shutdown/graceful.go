package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopIngestion  = 10 // 停止区块订阅和采样
	OrderStopAPI        = 20 // 停止接受查询请求
	OrderFlushPublisher = 30 // 关闭Kafka生产者或输出文件
	OrderSaveProgress   = 40 // 关闭进度数据库
	OrderCloseStore     = 50 // 关闭历史存储
	OrderCloseChains    = 60 // 关闭RPC连接
)

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
//
// 收到信号或手动触发后先取消 Context()，再按顺序执行已注册的处理函数。
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu             sync.Mutex
	shutdownFuncs  []ShutdownFunc
	isShuttingDown bool

	signalChan chan os.Signal
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	errs       []error
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// RegisterShutdownFunc 注册停机处理函数
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 监听 SIGINT、SIGTERM
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-gs.signalChan:
			gs.logger.Infof("收到停机信号: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
	}()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM")
}

// Context 停机开始时取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Done 停机流程结束后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Wait 等待停机完成，返回处理函数的错误
func (gs *GracefulShutdown) Wait() []error {
	<-gs.done
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.errs
}

// Shutdown 触发停机，重复调用只执行一次
func (gs *GracefulShutdown) Shutdown() {
	gs.mu.Lock()
	if gs.isShuttingDown {
		gs.mu.Unlock()
		return
	}
	gs.isShuttingDown = true
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()

	signal.Stop(gs.signalChan)
	gs.cancel()

	errs := gs.performShutdown(funcs)

	gs.mu.Lock()
	gs.errs = errs
	gs.mu.Unlock()
	close(gs.done)
}

func (gs *GracefulShutdown) performShutdown(funcs []ShutdownFunc) []error {
	gs.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	sort.SliceStable(funcs, func(i, j int) bool {
		return funcs[i].Order < funcs[j].Order
	})

	var errs []error
	for _, fn := range funcs {
		if ctx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", fn.Name)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := fn.Func(ctx); err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", fn.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, err))
			continue
		}
		gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", fn.Name, time.Since(start))
	}

	if len(errs) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	}
	gs.logger.Info("优雅停机流程完成")
	return errs
}

// IsShuttingDown 是否正在停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.isShuttingDown
}
