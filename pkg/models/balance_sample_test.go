package models

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSampleID_DistinctBlocks(t *testing.T) {
	seen := make(map[string][2]uint64)
	blocks := [][2]uint64{
		{1, 23}, {12, 3}, {123, 0}, {0, 123},
		{1, 1}, {11, 1}, {1, 11},
		{20137913, 1735000000}, {20137913, 1735000001}, {20137914, 1735000000},
	}

	for _, b := range blocks {
		id := SampleID(b[0], b[1])
		prev, dup := seen[id]
		assert.False(t, dup, "区块 %v 与 %v 产生相同ID %s", b, prev, id)
		seen[id] = b
	}
}

func TestSampleID_StableForRedelivery(t *testing.T) {
	assert.Equal(t, SampleID(100, 1700000000), SampleID(100, 1700000000))
	assert.Equal(t, "100-1700000000", SampleID(100, 1700000000))
}

func TestNewBlockSample(t *testing.T) {
	balance, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	sample := NewBlockSample(BlockHeader{Number: 42, Timestamp: 1700000000}, balance)

	assert.Equal(t, "42-1700000000", sample.ID)
	assert.Equal(t, uint64(42), sample.BlockNumber)
	assert.Equal(t, uint64(1700000000), sample.Timestamp)
	assert.Equal(t, balance.String(), sample.BalanceString())
	assert.False(t, sample.IsSetup())

	// 样本持有独立副本
	balance.SetInt64(1)
	assert.NotEqual(t, "1", sample.BalanceString())
}

func TestNewSetupSample(t *testing.T) {
	now := time.Unix(1700000123, 0)
	sample := NewSetupSample(now, big.NewInt(5))

	assert.Equal(t, SetupSampleID, sample.ID)
	assert.Equal(t, uint64(0), sample.BlockNumber)
	assert.Equal(t, uint64(1700000123), sample.Timestamp)
	assert.True(t, sample.IsSetup())
}

func TestBalanceSample_Date(t *testing.T) {
	sample := &BalanceSample{Timestamp: 0}
	assert.Equal(t, "1970-01-01T00:00:00.000Z", sample.Date())

	sample.Timestamp = 1700000000
	assert.Equal(t, "2023-11-14T22:13:20.000Z", sample.Date())
}

func TestBalanceSample_ToKafkaMessage(t *testing.T) {
	sample := &BalanceSample{ID: "7-100", Timestamp: 100, Balance: big.NewInt(9), BlockNumber: 7}
	msg := sample.ToKafkaMessage()

	assert.Equal(t, "7-100", msg["id"])
	assert.Equal(t, "100", msg["timestamp"])
	assert.Equal(t, "9", msg["balance"])
	assert.Equal(t, "7", msg["block_number"])
	assert.Equal(t, "1970-01-01T00:01:40.000Z", msg["date"])
}
