package errors

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器
//
// 负责按严重级别记录日志并维护错误统计，本身不做重试。
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 每小时错误数告警阈值
	maxErrorsPerHour int
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:           logger,
		stats:            NewErrorStats(),
		maxErrorsPerHour: 50,
	}
}

// HandleError 处理错误，返回规范化后的WatchError
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) *WatchError {
	if err == nil {
		return nil
	}

	watchErr, ok := As(err)
	if !ok {
		watchErr = WrapError(err, ErrorTypeStorage, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(watchErr)
	hourlyRate := eh.stats.GetErrorRate(time.Hour)
	eh.mu.Unlock()

	if hourlyRate > float64(eh.maxErrorsPerHour) {
		eh.logger.Warnf("每小时错误数超过阈值: %.2f > %d", hourlyRate, eh.maxErrorsPerHour)
	}

	eh.log(watchErr)
	return watchErr
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *WatchError) {
	fields := logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
	}
	if err.Component != "" {
		fields["component"] = err.Component
	}
	if err.BlockNumber != nil {
		fields["block_number"] = *err.BlockNumber
	}
	for k, v := range err.Context {
		fields[k] = v
	}
	if err.Cause != nil {
		fields["cause"] = err.Cause.Error()
	}

	entry := eh.logger.WithFields(fields)
	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Message)
	case SeverityMedium:
		entry.Warn(err.Message)
	default:
		entry.Error(err.Message)
	}
}

// SetMaxErrorsPerHour 设置告警阈值
func (eh *ErrorHandler) SetMaxErrorsPerHour(n int) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.maxErrorsPerHour = n
}

// GetStats 获取错误统计信息副本
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.stats.Copy()
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
