package payment

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/x402/internal/blockchain"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/validation"
)

// NativeDecimals is the precision of XCB (1 XCB = 10^18 ore).
const NativeDecimals = 18

// OnChainConfig configures an OnChain verifier.
type OnChainConfig struct {
	Chain          models.BlockchainService
	Tokens         models.TokenRegistry
	NativeCurrency string
	Now            func() time.Time
}

// OnChain verifies payments by reading the transaction from a node.
type OnChain struct {
	chain  models.BlockchainService
	tokens models.TokenRegistry
	native string
	now    func() time.Time
}

func NewOnChain(cfg OnChainConfig) *OnChain {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NativeCurrency == "" {
		cfg.NativeCurrency = "XCB"
	}
	return &OnChain{
		chain:  cfg.Chain,
		tokens: cfg.Tokens,
		native: strings.ToUpper(cfg.NativeCurrency),
		now:    cfg.Now,
	}
}

// Verify checks that header.Transaction is a mined, successful transfer of at
// least the requested amount to the request's recipient. Wrap it in Cached to
// keep the paymentId stable across verifications of the same transaction.
func (o *OnChain) Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) (*models.PaymentVerification, error) {
	if strings.TrimSpace(header.Transaction) == "" {
		return nil, errors.New("payment header carries no transaction")
	}
	txHash, err := blockchain.NormalizeTxHash(header.Transaction)
	if err != nil {
		return nil, err
	}

	token, err := o.token(request.Currency)
	if err != nil {
		return nil, err
	}
	if header.Method != "" && header.Method != methodFor(token) {
		return nil, fmt.Errorf("method %s cannot pay %s", header.Method, token.Symbol)
	}

	receipt, err := o.chain.GetTransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("receipt of %s: %w", txHash, err)
	}
	if !receipt.Success {
		return nil, fmt.Errorf("transaction %s failed", txHash)
	}
	tx, err := o.chain.GetTransaction(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", txHash, err)
	}

	expected := toBaseUnits(request.Amount, token.Decimals)
	var paid *big.Int
	payer := tx.From
	if token.Native {
		if !validation.SameAddress(tx.To, request.Recipient) {
			return nil, fmt.Errorf("transaction pays %s, not %s", tx.To, request.Recipient)
		}
		paid = tx.Value
	} else {
		if !validation.SameAddress(tx.To, token.Address) {
			return nil, fmt.Errorf("transaction calls %s, not the %s contract", tx.To, token.Symbol)
		}
		paid, payer = tokenPayment(tx, request.Recipient)
	}
	if paid == nil || paid.Sign() == 0 {
		return nil, errors.New("transaction transfers nothing to the recipient")
	}
	if paid.Cmp(expected) < 0 {
		return nil, models.NewInsufficientPaymentError(request.Amount, decimal.NewFromBigInt(paid, -int32(token.Decimals)))
	}

	now := o.now()
	return &models.PaymentVerification{
		PaymentID:       txHash + "_" + strconv.FormatInt(now.UnixNano(), 10),
		TransactionHash: txHash,
		Amount:          decimal.NewFromBigInt(paid, -int32(token.Decimals)),
		Currency:        token.Symbol,
		Payer:           payer,
		Recipient:       request.Recipient,
		BlockNumber:     receipt.BlockNumber,
		Timestamp:       now,
		Verified:        true,
	}, nil
}

func (o *OnChain) token(currency string) (*models.Token, error) {
	if o.tokens != nil {
		if t, ok := o.tokens.Lookup(currency); ok {
			return t, nil
		}
	}
	if currency == "" || strings.EqualFold(currency, o.native) {
		return &models.Token{Symbol: o.native, Decimals: NativeDecimals, Native: true}, nil
	}
	return nil, fmt.Errorf("unknown currency %s", currency)
}

func methodFor(t *models.Token) models.PaymentMethod {
	if t.Native {
		return models.MethodNative
	}
	return models.MethodToken
}

// tokenPayment sums the CBC20 transfers to recipient and returns the payer.
func tokenPayment(tx *models.Transaction, recipient string) (*big.Int, string) {
	total := new(big.Int)
	payer := tx.From
	for _, t := range blockchain.DecodeTokenTransfers(tx.Input) {
		if !validation.SameAddress(t.To, recipient) {
			continue
		}
		total.Add(total, t.Amount)
		if t.From != "" {
			payer = t.From
		}
	}
	return total, payer
}

// toBaseUnits converts a human amount to base units, rounding up so that a
// request can never be satisfied by less than its amount.
func toBaseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Ceil().BigInt()
}
