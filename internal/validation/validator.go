package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"balancewatch/internal/errors"
	"balancewatch/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// maxBalanceBits 余额允许的最大位宽
const maxBalanceBits = 256

var addressRegex = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

// Validator 数据验证器
type Validator struct {
	logger *logrus.Logger
	rules  map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                 `json:"valid"`
	Errors   []*errors.WatchError `json:"errors,omitempty"`
	DataType string               `json:"data_type"`
}

// Err 合并为单个错误，验证通过时返回nil
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// NewValidator 创建数据验证器
func NewValidator(logger *logrus.Logger) *Validator {
	v := &Validator{
		logger: logger,
		rules:  make(map[string]ValidationRule),
	}

	v.AddRule(NewSampleValidationRule())
	v.AddRule(NewAddressValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateSample 验证余额样本
func (v *Validator) ValidateSample(sample *models.BalanceSample) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "balance_sample",
		Errors:   make([]*errors.WatchError, 0),
	}

	if sample == nil {
		result.Valid = false
		result.Errors = append(result.Errors, errors.NewValidationError("EMPTY_SAMPLE", "样本为空"))
		return result
	}

	if rule, exists := v.rules["balance_sample"]; exists {
		if err := rule.Validate(sample); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, toWatchError(err, "SAMPLE_VALIDATION_FAILED").WithBlockNumber(sample.BlockNumber))
		}
	}

	return result
}

// ValidateAddress 验证账户地址
func (v *Validator) ValidateAddress(addr string) error {
	rule, exists := v.rules["address"]
	if !exists {
		return nil
	}
	if err := rule.Validate(addr); err != nil {
		return toWatchError(err, "INVALID_ADDRESS")
	}
	return nil
}

// toWatchError 统一转换为验证错误
func toWatchError(err error, code string) *errors.WatchError {
	if watchErr, ok := errors.As(err); ok {
		return watchErr
	}
	return errors.WrapError(err, errors.ErrorTypeValidation, errors.SeverityMedium, code, "验证失败")
}

// IsValidAddress 验证地址格式
//
// 要求0x前缀；大小写混合时必须符合EIP-55校验和。
func IsValidAddress(addr string) bool {
	if !addressRegex.MatchString(addr) {
		return false
	}

	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}

	return common.HexToAddress(addr).Hex() == addr
}

// ParseChainID 解析链ID
func ParseChainID(raw string) (int64, error) {
	chainID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("INVALID_CHAIN_ID", "Invalid chain ID").WithContext("chain_id", raw)
	}
	return chainID, nil
}

// ParseNonNegative 解析非负整数查询参数，空值取默认值
func ParseNonNegative(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("无效的非负整数: %s", raw)
	}
	return n, nil
}

// SampleValidationRule 余额样本验证规则
type SampleValidationRule struct{}

func NewSampleValidationRule() *SampleValidationRule {
	return &SampleValidationRule{}
}

func (r *SampleValidationRule) Name() string {
	return "balance_sample"
}

func (r *SampleValidationRule) Description() string {
	return "余额样本验证规则"
}

func (r *SampleValidationRule) Validate(data interface{}) error {
	sample, ok := data.(*models.BalanceSample)
	if !ok {
		return fmt.Errorf("数据类型不是余额样本")
	}

	if sample.ID == "" {
		return errors.NewWatchError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"EMPTY_SAMPLE_ID", "样本ID为空")
	}

	if sample.Balance == nil || sample.Balance.Sign() < 0 {
		return errors.NewWatchError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"INVALID_BALANCE", "余额无效")
	}

	if sample.Balance.BitLen() > maxBalanceBits {
		return errors.NewWatchError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"BALANCE_OVERFLOW", "余额超过256位")
	}

	// 区块号0只属于启动样本
	if sample.BlockNumber == 0 {
		if sample.ID != models.SetupSampleID {
			return errors.NewWatchError(errors.ErrorTypeValidation, errors.SeverityHigh,
				"RESERVED_BLOCK_NUMBER", "区块号0保留给启动样本")
		}
		return nil
	}

	if sample.ID != models.SampleID(sample.BlockNumber, sample.Timestamp) {
		return errors.NewWatchError(errors.ErrorTypeValidation, errors.SeverityHigh,
			"SAMPLE_ID_MISMATCH", fmt.Sprintf("样本ID与区块不一致: %s", sample.ID))
	}

	return nil
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !IsValidAddress(addr) {
		return errors.NewValidationError("INVALID_ADDRESS", "Invalid address").WithContext("address", addr)
	}

	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	names := make([]string, 0, len(v.rules))
	for name := range v.rules {
		names = append(names, name)
	}
	return map[string]interface{}{
		"registered_rules": names,
	}
}
