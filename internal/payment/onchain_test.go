package payment

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/repository"
	"github.com/core-coin/x402/pkg/logger"
)

// MockChain is a mock implementation of models.BlockchainService
type MockChain struct {
	mock.Mock
}

func (m *MockChain) GetTransactionReceipt(ctx context.Context, hash string) (*models.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Receipt), args.Error(1)
}

func (m *MockChain) GetTransaction(ctx context.Context, hash string) (*models.Transaction, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func xcb(amount string) *big.Int {
	return decimal.RequireFromString(amount).Shift(18).BigInt()
}

func transferCalldata(t *testing.T, to string, amount *big.Int) []byte {
	t.Helper()
	addr, err := hex.DecodeString(to)
	require.NoError(t, err)
	selector, _ := hex.DecodeString("4b40e901")

	out := append([]byte{}, selector...)
	word := make([]byte, 32)
	copy(word[32-len(addr):], addr)
	out = append(out, word...)
	word = make([]byte, 32)
	amt := amount.Bytes()
	copy(word[32-len(amt):], amt)
	return append(out, word...)
}

func newOnChain(chain *MockChain) (*Cached, *repository.MemoryDB) {
	db := repository.NewMemoryDB()
	now := testNow
	return NewCached(NewOnChain(OnChainConfig{
		Chain:          chain,
		Tokens:         testTokens,
		NativeCurrency: "XCB",
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	}), db), db
}

func TestOnChain_Native(t *testing.T) {
	ctx := context.Background()
	chain := new(MockChain)
	o, _ := newOnChain(chain)
	header := &models.PaymentHeader{Method: models.MethodNative, Transaction: txHash}

	chain.On("GetTransactionReceipt", ctx, txHash).Return(&models.Receipt{TxHash: txHash, Success: true, BlockNumber: 7}, nil).Once()
	chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{
		Hash:  txHash,
		From:  payer,
		To:    "0x" + recipient,
		Value: xcb("1.5"),
	}, nil).Once()

	v, err := o.Verify(ctx, header, request("1.5", "XCB"))
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.True(t, v.Amount.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, "XCB", v.Currency)
	assert.Equal(t, payer, v.Payer)
	assert.Equal(t, uint64(7), v.BlockNumber)
	assert.Equal(t, txHash+"_1777629601000000000", v.PaymentID)

	// the second call is served from the cache with the same payment id
	again, err := o.Verify(ctx, header, request("1.5", "XCB"))
	require.NoError(t, err)
	assert.Equal(t, v.PaymentID, again.PaymentID)
	chain.AssertExpectations(t)
}

func TestOnChain_SpellingsOfOneTransaction(t *testing.T) {
	ctx := context.Background()
	bare := strings.TrimPrefix(txHash, "0x")

	chain := new(MockChain)
	o, _ := newOnChain(chain)
	// the node is always asked for the canonical hash
	chain.On("GetTransactionReceipt", ctx, txHash).Return(&models.Receipt{TxHash: txHash, Success: true}, nil).Once()
	chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{From: payer, To: recipient, Value: xcb("1")}, nil).Once()

	first, err := o.Verify(ctx, &models.PaymentHeader{Transaction: "0x" + strings.ToUpper(bare)}, request("1", "XCB"))
	require.NoError(t, err)
	assert.Equal(t, txHash, first.TransactionHash)

	for _, spelling := range []string{txHash, bare, strings.ToUpper(bare), " 0X" + bare} {
		v, err := o.Verify(ctx, &models.PaymentHeader{Transaction: spelling}, request("1", "XCB"))
		require.NoError(t, err, spelling)
		assert.Equal(t, first.PaymentID, v.PaymentID, spelling)
	}
	chain.AssertExpectations(t)

	_, err = o.Verify(ctx, &models.PaymentHeader{Transaction: "0xnot-a-hash"}, request("1", "XCB"))
	assert.Error(t, err)
}

func TestOnChain_ResubmittedTransactionSettlesOnce(t *testing.T) {
	ctx := context.Background()
	chain := new(MockChain)
	o, db := newOnChain(chain)
	chain.On("GetTransactionReceipt", ctx, txHash).Return(&models.Receipt{TxHash: txHash, Success: true}, nil)
	chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{From: payer, To: recipient, Value: xcb("1")}, nil)

	verifier := NewVerifier(o, nil, logger.NewNop(), func() time.Time { return testNow })
	coordinator := NewCoordinator(db, nil, nil, logger.NewNop(), func() time.Time { return testNow })

	first := coordinator.Settle(ctx, "weather", nil, verifier.Verify(ctx, &models.PaymentHeader{Transaction: txHash}, request("1", "XCB")))
	require.True(t, first.Settled)
	assert.False(t, first.Replayed)

	upper := &models.PaymentHeader{Transaction: "0x" + strings.ToUpper(strings.TrimPrefix(txHash, "0x"))}
	again := coordinator.Settle(ctx, "weather", upper, verifier.Verify(ctx, upper, request("1", "XCB")))
	assert.True(t, again.Replayed)

	revenue, err := coordinator.Revenue(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, 1, revenue.Payments)
	assert.Equal(t, "1", revenue.Totals["XCB"].String())
}

func TestOnChain_NativeRejections(t *testing.T) {
	ctx := context.Background()
	header := &models.PaymentHeader{Method: models.MethodNative, Transaction: txHash}
	okReceipt := &models.Receipt{TxHash: txHash, Success: true}

	t.Run("underpaid", func(t *testing.T) {
		chain := new(MockChain)
		o, db := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(okReceipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{To: recipient, Value: xcb("0.999")}, nil)

		_, err := o.Verify(ctx, header, request("1", "XCB"))
		var insufficient *models.InsufficientPaymentError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "0.999", insufficient.Paid.String())

		_, err = db.GetVerificationByTransaction(ctx, txHash)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("wrong recipient", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(okReceipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{To: payer, Value: xcb("5")}, nil)

		_, err := o.Verify(ctx, header, request("1", "XCB"))
		assert.Error(t, err)
	})

	t.Run("failed transaction", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(&models.Receipt{Success: false}, nil)

		_, err := o.Verify(ctx, header, request("1", "XCB"))
		assert.Error(t, err)
		chain.AssertNotCalled(t, "GetTransaction", mock.Anything, mock.Anything)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(nil, models.ErrNotFound)

		_, err := o.Verify(ctx, header, request("1", "XCB"))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("no transaction", func(t *testing.T) {
		o, _ := newOnChain(new(MockChain))
		_, err := o.Verify(ctx, &models.PaymentHeader{Method: models.MethodNative}, request("1", "XCB"))
		assert.Error(t, err)
	})

	t.Run("method mismatch", func(t *testing.T) {
		o, _ := newOnChain(new(MockChain))
		_, err := o.Verify(ctx, &models.PaymentHeader{Method: models.MethodToken, Transaction: txHash}, request("1", "XCB"))
		assert.Error(t, err)
	})

	t.Run("unknown currency", func(t *testing.T) {
		o, _ := newOnChain(new(MockChain))
		_, err := o.Verify(ctx, header, request("1", "DOGE"))
		assert.Error(t, err)
	})
}

func TestOnChain_Token(t *testing.T) {
	ctx := context.Background()
	header := &models.PaymentHeader{Method: models.MethodToken, Transaction: txHash}
	receipt := &models.Receipt{TxHash: txHash, Success: true, BlockNumber: 9}

	t.Run("transfer to recipient", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(receipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{
			From:  payer,
			To:    ctnAddr,
			Value: big.NewInt(0),
			Input: transferCalldata(t, recipient, xcb("2")),
		}, nil)

		v, err := o.Verify(ctx, header, request("2", "CTN"))
		require.NoError(t, err)
		assert.Equal(t, "CTN", v.Currency)
		assert.True(t, v.Amount.Equal(decimal.NewFromInt(2)))
		assert.Equal(t, payer, v.Payer)
	})

	t.Run("six decimals", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(receipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{
			From:  payer,
			To:    testTokens["USDX"].Address,
			Input: transferCalldata(t, recipient, big.NewInt(2_500_000)),
		}, nil)

		v, err := o.Verify(ctx, header, request("2.5", "USDX"))
		require.NoError(t, err)
		assert.Equal(t, "2.5", v.Amount.String())
	})

	t.Run("wrong contract", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(receipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{
			To:    recipient,
			Input: transferCalldata(t, recipient, xcb("2")),
		}, nil)

		_, err := o.Verify(ctx, header, request("2", "CTN"))
		assert.Error(t, err)
	})

	t.Run("transfer to someone else", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(receipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{
			To:    ctnAddr,
			Input: transferCalldata(t, payer, xcb("2")),
		}, nil)

		_, err := o.Verify(ctx, header, request("2", "CTN"))
		assert.Error(t, err)
	})

	t.Run("underpaid", func(t *testing.T) {
		chain := new(MockChain)
		o, _ := newOnChain(chain)
		chain.On("GetTransactionReceipt", ctx, txHash).Return(receipt, nil)
		chain.On("GetTransaction", ctx, txHash).Return(&models.Transaction{
			To:    ctnAddr,
			Input: transferCalldata(t, recipient, xcb("1.99")),
		}, nil)

		_, err := o.Verify(ctx, header, request("2", "CTN"))
		var insufficient *models.InsufficientPaymentError
		assert.True(t, errors.As(err, &insufficient))
	})
}

func TestToBaseUnits(t *testing.T) {
	assert.Equal(t, "1500000000000000000", toBaseUnits(decimal.RequireFromString("1.5"), 18).String())
	assert.Equal(t, "3", toBaseUnits(decimal.RequireFromString("0.0000025"), 6).String())
}
