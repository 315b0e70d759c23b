package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"balancewatch/internal/api"
	"balancewatch/internal/chain"
	"balancewatch/internal/config"
	"balancewatch/internal/ingest"
	"balancewatch/internal/logging"
	"balancewatch/internal/output"
	"balancewatch/internal/progress"
	"balancewatch/internal/retry"
	"balancewatch/internal/shutdown"
	"balancewatch/internal/store"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool

	// 覆盖配置文件
	storeDriver string
	workers     int
	startBlock  uint64

	noAPI         bool
	resetProgress bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watcher",
		Short: "账户余额历史采样工具",
		Long:  `在每个新区块记录被跟踪账户的原生币余额，并提供历史查询API`,
		RunE:  run,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	rootCmd.Flags().StringVar(&storeDriver, "store", "", "存储驱动 (postgres, bolt, memory)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "并发采样协程数")
	rootCmd.Flags().Uint64Var(&startBlock, "start-block", 0, "起始区块号")
	rootCmd.Flags().BoolVar(&noAPI, "no-api", false, "不启动查询API")
	rootCmd.Flags().BoolVar(&resetProgress, "reset-progress", false, "重置进度重新开始")

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "查看采样进度",
		RunE:  showProgress,
	}
	rootCmd.AddCommand(progressCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载配置并应用命令行覆盖
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}

	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = storeDriver
	}
	if cmd.Flags().Changed("workers") {
		cfg.Stream.Workers = workers
	}
	if cmd.Flags().Changed("start-block") {
		cfg.Account.StartBlock = startBlock
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	gs.Start()
	ctx := gs.Context()

	// 启动失败时释放已打开的资源
	fail := func(err error) error {
		gs.Shutdown()
		return err
	}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fail(fmt.Errorf("打开历史存储失败: %w", err))
	}
	gs.RegisterShutdownFunc("store", func(context.Context) error { return st.Close() }, shutdown.OrderCloseStore)

	tracking := cfg.Chain(cfg.Network.ChainID)
	client, err := retry.Do(ctx, retry.NewRetrier(retry.NetworkRetryConfig, logger), "dial_"+tracking.Name,
		func() (*chain.Client, error) {
			return chain.Dial(ctx, tracking, logger)
		})
	if err != nil {
		return fail(err)
	}

	registry := chain.NewRegistry(cfg.Chains, logger)
	registry.Register(tracking, client)
	gs.RegisterShutdownFunc("chains", func(context.Context) error {
		registry.Close()
		return nil
	}, shutdown.OrderCloseChains)

	publisher, err := output.NewPublisher(cfg.Output, logger)
	if err != nil {
		return fail(fmt.Errorf("创建输出器失败: %w", err))
	}
	gs.RegisterShutdownFunc("publisher", func(context.Context) error { return publisher.Close() }, shutdown.OrderFlushPublisher)

	deps := ingest.Dependencies{Source: client, Store: st, Publisher: publisher}

	var pm *progress.Manager
	if cfg.Progress.Enabled {
		pm, err = openProgress(cfg, logger)
		if err != nil {
			return fail(err)
		}
		gs.RegisterShutdownFunc("progress", func(context.Context) error { return pm.Close() }, shutdown.OrderSaveProgress)
		deps.Progress = pm
	}

	pipeline, err := ingest.NewPipeline(cfg, deps, logger)
	if err != nil {
		return fail(err)
	}

	if err := pipeline.HandleSetup(ctx); err != nil {
		return fail(fmt.Errorf("记录初始余额失败: %w", err))
	}

	if !noAPI {
		server := api.NewServer(cfg, st, registry, logger, cfg.API.Port)
		server.SetErrorHandler(pipeline.Errors())
		server.RegisterStatus("ingest", pipeline.GetStats)
		if pm != nil {
			server.RegisterStatus("progress", pm.GetStats)
		}
		gs.RegisterShutdownFunc("api", server.Stop, shutdown.OrderStopAPI)

		go func() {
			if err := server.Start(); err != nil {
				logger.Errorf("API服务器异常退出: %v", err)
				go gs.Shutdown()
			}
		}()
	}

	interval, err := cfg.PollInterval()
	if err != nil {
		return fail(err)
	}
	start := cfg.Account.StartBlock
	if pm != nil {
		start = pm.ResumeBlock(start)
	}
	if start > 0 {
		logger.Infof("从区块 %d 开始采样", start)
	}
	source := chain.NewBlockSource(client, interval, start, logger)

	runDone := make(chan struct{})
	gs.RegisterShutdownFunc("ingest", func(ctx context.Context) error {
		select {
		case <-runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, shutdown.OrderStopIngestion)

	runErr := pipeline.Run(ctx, source.Stream(ctx))
	close(runDone)

	go gs.Shutdown()
	logger.Info("等待优雅停机完成...")
	if errs := gs.Wait(); len(errs) > 0 {
		return stderrors.Join(errs...)
	}

	if stderrors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func openProgress(cfg *config.Config, logger *logrus.Logger) (*progress.Manager, error) {
	pm, err := progress.NewManager(cfg.Progress.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化进度管理器失败: %w", err)
	}

	if resetProgress {
		logger.Info("重置采样进度...")
		if err := pm.Reset(); err != nil {
			pm.Close()
			return nil, fmt.Errorf("重置进度失败: %w", err)
		}
	}
	if err := pm.BindAccount(cfg.Account.Address); err != nil {
		pm.Close()
		return nil, err
	}
	return pm, nil
}

// showProgress 显示采样进度
func showProgress(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pm, err := progress.NewManager(cfg.Progress.Path, logger)
	if err != nil {
		return err
	}
	defer pm.Close()

	stats := pm.GetStats()
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fmt.Println("采样进度信息")
	fmt.Println(strings.Repeat("=", 50))
	for _, key := range keys {
		fmt.Printf("%-20s: %v\n", key, stats[key])
	}
	return nil
}
