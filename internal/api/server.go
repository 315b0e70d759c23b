package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"balancewatch/internal/chain"
	"balancewatch/internal/config"
	"balancewatch/internal/errors"
	"balancewatch/internal/store"
	"balancewatch/internal/validation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ChainRegistry 实时余额查询使用的链
type ChainRegistry interface {
	Source(ctx context.Context, chainID int64) (chain.BalanceSource, error)
	Chains() []*config.ChainConfig
}

// StatusFunc 组件状态
type StatusFunc func() map[string]interface{}

// Server API服务器
type Server struct {
	config     *config.Config
	store      store.Store
	chains     ChainRegistry
	validator  *validation.Validator
	errors     *errors.ErrorHandler
	logger     *logrus.Logger
	logManager *LogManager
	now        func() time.Time
	port       int

	mu       sync.RWMutex
	statuses map[string]StatusFunc

	routerOnce sync.Once
	router     *gin.Engine
	server     *http.Server
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, st store.Store, chains ChainRegistry, logger *logrus.Logger, port int) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	return &Server{
		config:     cfg,
		store:      st,
		chains:     chains,
		validator:  validation.NewValidator(logger),
		errors:     errors.NewErrorHandler(logger),
		logger:     logger,
		logManager: logManager,
		now:        time.Now,
		port:       port,
		statuses:   make(map[string]StatusFunc),
	}
}

// SetClock 替换时钟
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// SetErrorHandler 与采样管道共用错误统计
func (s *Server) SetErrorHandler(handler *errors.ErrorHandler) {
	if handler != nil {
		s.errors = handler
	}
}

// RegisterStatus 注册在 /api/status 中展示的组件
func (s *Server) RegisterStatus(name string, fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = fn
}

// Router 路由
func (s *Server) Router() *gin.Engine {
	s.routerOnce.Do(func() {
		router := gin.New()
		router.Use(cors())
		router.Use(gin.Logger())
		router.Use(gin.Recovery())
		s.setupRoutes(router)
		s.router = router
	})
	return s.router
}

// Start 启动API服务器，阻塞直到Stop
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("正在停止API服务器")
	return srv.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api")
	{
		// 余额历史
		api.GET("/balance-history", s.getBalanceHistory)
		api.GET("/latest-balance", s.getLatestBalance)
		api.GET("/hot-trades", s.getHotTrades)

		// 实时余额
		api.GET("/account/:chainId/:address", s.getAccountBalance)
		api.GET("/chains", s.getChains)

		// 运维
		api.GET("/status", s.getStatus)
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}
