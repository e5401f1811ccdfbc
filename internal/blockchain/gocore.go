package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	core "github.com/core-coin/go-core/v2"
	"github.com/core-coin/go-core/v2/common"
	"github.com/core-coin/go-core/v2/core/types"
	"github.com/core-coin/go-core/v2/xcbclient"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

// DefaultRPCTimeout bounds every RPC call made by Gocore.
const DefaultRPCTimeout = 10 * time.Second

// ErrTransactionPending is returned for transactions that are not mined yet.
var ErrTransactionPending = errors.New("transaction is pending")

// Gocore looks up transactions through a go-core node.
type Gocore struct {
	logger    *logger.Logger
	apiURL    string
	networkID *big.Int
	timeout   time.Duration

	mu     sync.RWMutex
	client *xcbclient.Client
}

// NewGocore creates a new Gocore instance.
func NewGocore(apiURL string, networkID *big.Int, logger *logger.Logger) *Gocore {
	return &Gocore{
		apiURL:    apiURL,
		networkID: networkID,
		logger:    logger.Named("gocore"),
		timeout:   DefaultRPCTimeout,
	}
}

// Run connects to the RPC endpoint.
func (g *Gocore) Run() error {
	if err := g.ConnectToRPC(); err != nil {
		return fmt.Errorf("failed to connect to the core RPC server: %w", err)
	}
	return nil
}

func (g *Gocore) ConnectToRPC() error {
	client, err := xcbclient.Dial(g.apiURL)
	if err != nil {
		return fmt.Errorf("failed to connect to the core RPC server: %w", err)
	}
	g.mu.Lock()
	g.client = client
	g.mu.Unlock()
	g.logger.Info("Connected to core RPC", "url", g.apiURL)
	return nil
}

func (g *Gocore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		g.client.Close()
		g.client = nil
	}
	return nil
}

func (g *Gocore) rpc() (*xcbclient.Client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, fmt.Errorf("core RPC client is not connected")
	}
	return g.client, nil
}

// GetTransactionReceipt returns the receipt of a mined transaction.
// A transaction the node does not know returns models.ErrNotFound.
func (g *Gocore) GetTransactionReceipt(ctx context.Context, txHash string) (*models.Receipt, error) {
	client, err := g.rpc()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, core.NotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	result := &models.Receipt{
		TxHash:  receipt.TxHash.Hex(),
		Success: receipt.Status == types.ReceiptStatusSuccessful,
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}

// GetTransaction returns a mined transaction with its recovered sender.
func (g *Gocore) GetTransaction(ctx context.Context, txHash string) (*models.Transaction, error) {
	client, err := g.rpc()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	tx, pending, err := client.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, core.NotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if pending {
		return nil, ErrTransactionPending
	}
	if tx.To() == nil {
		return nil, fmt.Errorf("transaction %s is a contract creation", txHash)
	}

	signer := types.NewNucleusSigner(g.networkID)
	sender, err := signer.Sender(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to get sender: %w", err)
	}

	return &models.Transaction{
		Hash:  tx.Hash().Hex(),
		From:  sender.Hex(),
		To:    tx.To().Hex(),
		Value: tx.Value(),
		Input: tx.Data(),
	}, nil
}
