package api

import (
	stderrors "errors"
	"net/http"
	"strconv"

	"balancewatch/internal/chain"
	"balancewatch/internal/errors"
	"balancewatch/internal/store"
	"balancewatch/internal/validation"
	"balancewatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 100
	hotTradesWindow     = 3600
	hotTradesLimit      = 10
)

// SampleResponse 余额样本，整数均以十进制字符串返回
type SampleResponse struct {
	ID          string `json:"id"`
	Timestamp   string `json:"timestamp"`
	Balance     string `json:"balance"`
	BlockNumber string `json:"blockNumber"`
	Date        string `json:"date"`
}

// Pagination 分页信息
type Pagination struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// HistoryResponse 历史查询结果
type HistoryResponse struct {
	Data       []SampleResponse `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

// AccountResponse 实时余额
type AccountResponse struct {
	Address        string `json:"address"`
	ChainID        int64  `json:"chainId"`
	CurrentBalance string `json:"currentBalance"`
}

func toResponse(s *models.BalanceSample) SampleResponse {
	return SampleResponse{
		ID:          s.ID,
		Timestamp:   strconv.FormatUint(s.Timestamp, 10),
		Balance:     s.BalanceString(),
		BlockNumber: strconv.FormatUint(s.BlockNumber, 10),
		Date:        s.Date(),
	}
}

func toResponses(samples []*models.BalanceSample) []SampleResponse {
	out := make([]SampleResponse, 0, len(samples))
	for _, s := range samples {
		out = append(out, toResponse(s))
	}
	return out
}

// fail 返回错误响应，服务端错误只记录原因不返回给调用方
func (s *Server) fail(c *gin.Context, werr *errors.WatchError, public string) {
	status := werr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.errors.HandleError(c.Request.Context(), werr.WithComponent("api").WithContext("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"error": public})
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
		"service":   "balancewatch-api",
	})
}

// getBalanceHistory 按时间倒序分页查询历史
func (s *Server) getBalanceHistory(c *gin.Context) {
	limit, err := validation.ParseNonNegative(c.Query("limit"), defaultHistoryLimit)
	if err != nil {
		s.fail(c, errors.NewValidationError("INVALID_LIMIT", "Invalid limit"), "Invalid limit")
		return
	}
	offset, err := validation.ParseNonNegative(c.Query("offset"), 0)
	if err != nil {
		s.fail(c, errors.NewValidationError("INVALID_OFFSET", "Invalid offset"), "Invalid offset")
		return
	}

	ctx := c.Request.Context()
	samples := []*models.BalanceSample{}
	// 存储层 Limit=0 表示不限制，这里 limit=0 直接返回空列表
	if limit > 0 {
		samples, err = s.store.Query(ctx, store.Query{
			OrderBy: store.FieldTimestamp,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			s.fail(c, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityHigh, "HISTORY_QUERY_FAILED", "查询余额历史失败"),
				"Failed to fetch balance history")
			return
		}
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		s.fail(c, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityHigh, "HISTORY_COUNT_FAILED", "统计余额历史失败"),
			"Failed to fetch balance history")
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Data:       toResponses(samples),
		Pagination: Pagination{Limit: limit, Offset: offset, Total: total},
	})
}

// getLatestBalance 时间戳最大的样本
func (s *Server) getLatestBalance(c *gin.Context) {
	samples, err := s.store.Query(c.Request.Context(), store.Query{OrderBy: store.FieldTimestamp, Limit: 1})
	if err != nil {
		s.fail(c, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityHigh, "LATEST_QUERY_FAILED", "查询最新余额失败"),
			"Failed to fetch latest balance")
		return
	}
	if len(samples) == 0 {
		s.fail(c, errors.NewNotFoundError("NO_BALANCE_DATA", "No balance data found"), "No balance data found")
		return
	}

	c.JSON(http.StatusOK, toResponse(samples[0]))
}

// getAccountBalance 实时查询任意地址余额
func (s *Server) getAccountBalance(c *gin.Context) {
	chainID, err := validation.ParseChainID(c.Param("chainId"))
	if err != nil {
		s.fail(c, errors.NewValidationError("INVALID_CHAIN_ID", "Invalid chain ID"), "Invalid chain ID")
		return
	}

	address := c.Param("address")
	if err := s.validator.ValidateAddress(address); err != nil {
		s.fail(c, errors.NewValidationError("INVALID_ADDRESS", "Invalid address"), "Invalid address")
		return
	}

	ctx := c.Request.Context()
	source, err := s.chains.Source(ctx, chainID)
	if stderrors.Is(err, chain.ErrChainNotSupported) {
		s.fail(c, errors.NewValidationError("CHAIN_NOT_SUPPORTED", "Chain not supported"), "Chain not supported")
		return
	}
	if err != nil {
		s.fail(c, errors.NewUpstreamError(err, "CHAIN_CONNECT_FAILED", "连接链节点失败").WithContext("chain_id", chainID),
			"Failed to fetch account balance")
		return
	}

	balance, err := source.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		s.fail(c, errors.NewUpstreamError(err, "ACCOUNT_BALANCE_FAILED", "查询账户余额失败").
			WithContext("chain_id", chainID).
			WithContext("address", address),
			"Failed to fetch account balance")
		return
	}

	c.JSON(http.StatusOK, AccountResponse{
		Address:        address,
		ChainID:        chainID,
		CurrentBalance: balance.String(),
	})
}

// getHotTrades 最近一小时余额最高的样本
func (s *Server) getHotTrades(c *gin.Context) {
	var since uint64
	if now := s.now().Unix(); now > hotTradesWindow {
		since = uint64(now - hotTradesWindow)
	}

	samples, err := s.store.Query(c.Request.Context(), store.Query{
		OrderBy:      store.FieldBalance,
		Limit:        hotTradesLimit,
		MinTimestamp: &since,
	})
	if err != nil {
		s.fail(c, errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityHigh, "HOT_TRADES_FAILED", "查询热门记录失败"),
			"Failed to fetch hot trades")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toResponses(samples)})
}

// getChains 可查询实时余额的链
func (s *Server) getChains(c *gin.Context) {
	chains := make([]gin.H, 0)
	for _, ch := range s.chains.Chains() {
		chains = append(chains, gin.H{"chainId": ch.ChainID, "name": ch.Name})
	}
	c.JSON(http.StatusOK, gin.H{"chains": chains})
}

// getStatus 服务状态
func (s *Server) getStatus(c *gin.Context) {
	status := gin.H{
		"network": gin.H{
			"name":    s.config.Network.Name,
			"chainId": s.config.Network.ChainID,
		},
		"account": s.config.Account.Address,
		"store":   s.config.Store.Driver,
		"errors":  s.errors.GetStats(),
	}

	if total, err := s.store.Count(c.Request.Context()); err == nil {
		status["samples"] = total
	}

	s.mu.RLock()
	for name, fn := range s.statuses {
		status[name] = fn()
	}
	s.mu.RUnlock()

	c.JSON(http.StatusOK, status)
}

// getLogs 分页获取最近日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}
