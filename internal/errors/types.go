package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 启动阶段错误，直接中止启动
	ErrorTypeStartup ErrorType = iota

	// 单个区块采样失败，记录后丢弃
	ErrorTypeIngestion

	// 请求参数错误
	ErrorTypeValidation

	// 上游节点调用失败
	ErrorTypeUpstream

	// 查询结果为空
	ErrorTypeNotFound

	// 存储相关错误
	ErrorTypeStorage
	ErrorTypeConfig
	ErrorTypePublish
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// WatchError 自定义错误类型
type WatchError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Timestamp   time.Time              `json:"timestamp"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	Component   string                 `json:"component,omitempty"`
	BlockNumber *uint64                `json:"block_number,omitempty"`
}

// Error 实现error接口
func (e *WatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WatchError) Unwrap() error {
	return e.Cause
}

// HTTPStatus 映射到HTTP状态码
func (e *WatchError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsFatal 是否需要中止进程
func (e *WatchError) IsFatal() bool {
	return e.Type == ErrorTypeStartup || e.Severity == SeverityCritical
}

// WithContext 添加上下文信息
func (e *WatchError) WithContext(key string, value interface{}) *WatchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithBlockNumber 添加区块号
func (e *WatchError) WithBlockNumber(blockNumber uint64) *WatchError {
	e.BlockNumber = &blockNumber
	return e
}

// WithComponent 添加组件名
func (e *WatchError) WithComponent(component string) *WatchError {
	e.Component = component
	return e
}

// NewWatchError 创建新的错误
func NewWatchError(errorType ErrorType, severity ErrorSeverity, code, message string) *WatchError {
	return &WatchError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *WatchError {
	return &WatchError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// NewValidationError 请求参数错误
func NewValidationError(code, message string) *WatchError {
	return NewWatchError(ErrorTypeValidation, SeverityLow, code, message)
}

// NewNotFoundError 结果为空
func NewNotFoundError(code, message string) *WatchError {
	return NewWatchError(ErrorTypeNotFound, SeverityLow, code, message)
}

// NewUpstreamError 上游调用失败
func NewUpstreamError(err error, code, message string) *WatchError {
	return WrapError(err, ErrorTypeUpstream, SeverityMedium, code, message)
}

// NewIngestionError 区块采样失败
func NewIngestionError(err error, blockNumber uint64, code, message string) *WatchError {
	return WrapError(err, ErrorTypeIngestion, SeverityMedium, code, message).
		WithBlockNumber(blockNumber).
		WithComponent("ingest")
}

// NewStartupError 启动失败
func NewStartupError(err error, code, message string) *WatchError {
	return WrapError(err, ErrorTypeStartup, SeverityCritical, code, message).
		WithComponent("ingest")
}

// As 提取WatchError
func As(err error) (*WatchError, bool) {
	for err != nil {
		if we, ok := err.(*WatchError); ok {
			return we, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeStartup:    "Startup",
	ErrorTypeIngestion:  "Ingestion",
	ErrorTypeValidation: "Validation",
	ErrorTypeUpstream:   "Upstream",
	ErrorTypeNotFound:   "NotFound",
	ErrorTypeStorage:    "Storage",
	ErrorTypeConfig:     "Config",
	ErrorTypePublish:    "Publish",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int            `json:"total_errors"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	ErrorsByComponent map[string]int `json:"errors_by_component"`
	RecentErrors      []*WatchError  `json:"recent_errors"`
	LastErrorTime     time.Time      `json:"last_error_time"`
}

// maxRecentErrors 保留最近错误的数量
const maxRecentErrors = 100

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*WatchError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *WatchError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}
	es.LastErrorTime = err.Timestamp

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > maxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// Copy 返回统计副本
func (es *ErrorStats) Copy() *ErrorStats {
	cp := &ErrorStats{
		TotalErrors:       es.TotalErrors,
		ErrorsByType:      make(map[string]int, len(es.ErrorsByType)),
		ErrorsByComponent: make(map[string]int, len(es.ErrorsByComponent)),
		RecentErrors:      make([]*WatchError, len(es.RecentErrors)),
		LastErrorTime:     es.LastErrorTime,
	}
	for k, v := range es.ErrorsByType {
		cp.ErrorsByType[k] = v
	}
	for k, v := range es.ErrorsByComponent {
		cp.ErrorsByComponent[k] = v
	}
	copy(cp.RecentErrors, es.RecentErrors)
	return cp
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}
