package models

import (
	"context"
	"math/big"
)

// Receipt is the part of a transaction receipt payment verification needs.
type Receipt struct {
	TxHash      string
	Success     bool
	BlockNumber uint64
}

// Transaction is a mined transaction reduced to what payment verification needs.
type Transaction struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
	Input []byte
}

// BlockchainService looks up transactions on chain.
type BlockchainService interface {
	GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	GetTransaction(ctx context.Context, txHash string) (*Transaction, error)
}
