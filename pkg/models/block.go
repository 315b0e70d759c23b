package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
)

// BlockHeader 区块通知数据模型
type BlockHeader struct {
	Number    uint64 `json:"block_number"` // 区块号
	Timestamp uint64 `json:"timestamp"`    // 区块时间戳(秒)
	Hash      string `json:"hash,omitempty"`
}

// FromEthereumHeader 从以太坊区块头转换为内部模型
func (b *BlockHeader) FromEthereumHeader(header *types.Header) {
	if header == nil {
		return
	}

	b.Number = header.Number.Uint64()
	b.Timestamp = header.Time
	b.Hash = header.Hash().Hex()
}

// NewBlockHeader 由以太坊区块头创建通知
func NewBlockHeader(header *types.Header) BlockHeader {
	var b BlockHeader
	b.FromEthereumHeader(header)
	return b
}

// BigNumber 区块号，用于RPC查询
func (b BlockHeader) BigNumber() *big.Int {
	return new(big.Int).SetUint64(b.Number)
}
