package validation

import (
	"math/big"
	"testing"

	"balancewatch/internal/errors"
	"balancewatch/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator(t *testing.T) {
	validator := NewValidator(logrus.New())

	assert.NotNil(t, validator)
	assert.Equal(t, 2, len(validator.rules)) // 默认注册的规则数量
}

func TestValidateSample_Valid(t *testing.T) {
	validator := NewValidator(logrus.New())

	block := models.NewBlockSample(models.BlockHeader{Number: 1000, Timestamp: 1700000000}, big.NewInt(42))
	result := validator.ValidateSample(block)
	assert.True(t, result.Valid)
	assert.NoError(t, result.Err())

	setup := &models.BalanceSample{ID: models.SetupSampleID, Timestamp: 1700000000, Balance: big.NewInt(0)}
	assert.True(t, validator.ValidateSample(setup).Valid)
}

func TestValidateSample_Invalid(t *testing.T) {
	validator := NewValidator(logrus.New())
	huge := new(big.Int).Lsh(big.NewInt(1), 256)

	tests := []struct {
		name   string
		sample *models.BalanceSample
		code   string
	}{
		{"nil sample", nil, "EMPTY_SAMPLE"},
		{"empty id", &models.BalanceSample{Balance: big.NewInt(1), BlockNumber: 1}, "EMPTY_SAMPLE_ID"},
		{"nil balance", &models.BalanceSample{ID: "1-1", BlockNumber: 1, Timestamp: 1}, "INVALID_BALANCE"},
		{"negative balance", &models.BalanceSample{ID: "1-1", BlockNumber: 1, Timestamp: 1, Balance: big.NewInt(-1)}, "INVALID_BALANCE"},
		{"overflow", &models.BalanceSample{ID: "1-1", BlockNumber: 1, Timestamp: 1, Balance: huge}, "BALANCE_OVERFLOW"},
		{"block zero with block id", &models.BalanceSample{ID: "0-5", Timestamp: 5, Balance: big.NewInt(1)}, "RESERVED_BLOCK_NUMBER"},
		{"id mismatch", &models.BalanceSample{ID: "2-1", BlockNumber: 1, Timestamp: 1, Balance: big.NewInt(1)}, "SAMPLE_ID_MISMATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateSample(tt.sample)
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.Error(t, result.Err())
		})
	}
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"0x2f7397fd2d49e5b636ef44503771b17eded67620", true},
		{"0x2F7397FD2D49E5B636EF44503771B17EDED67620", true},
		{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},  // EIP-55
		{"0x5aAeb6053f3E94C9b9A09f33669435E7Ef1BeAed", false}, // 校验和错误
		{"2f7397fd2d49e5b636ef44503771b17eded67620", false},
		{"0x2f7397fd2d49e5b636ef44503771b17eded6762", false},
		{"0xzz7397fd2d49e5b636ef44503771b17eded67620", false},
		{"not-an-address", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidAddress(tt.addr))
		})
	}
}

func TestValidateAddress(t *testing.T) {
	validator := NewValidator(logrus.New())

	assert.NoError(t, validator.ValidateAddress("0x2f7397fd2d49e5b636ef44503771b17eded67620"))

	err := validator.ValidateAddress("not-an-address")
	require.Error(t, err)
	watchErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrorTypeValidation, watchErr.Type)
	assert.Equal(t, 400, watchErr.HTTPStatus())
}

func TestParseChainID(t *testing.T) {
	id, err := ParseChainID("146")
	require.NoError(t, err)
	assert.Equal(t, int64(146), id)

	_, err = ParseChainID("sonic")
	assert.Error(t, err)
}

func TestParseNonNegative(t *testing.T) {
	n, err := ParseNonNegative("", 100)
	require.NoError(t, err)
	assert.Equal(t, 100, n)

	n, err = ParseNonNegative("0", 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ParseNonNegative("-1", 100)
	assert.Error(t, err)

	_, err = ParseNonNegative("abc", 100)
	assert.Error(t, err)
}
