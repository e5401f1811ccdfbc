package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/core-coin/x402/internal/blockchain"
	"github.com/core-coin/x402/internal/models"
)

// proofKeyPrefix marks cache keys derived from a proof rather than a transaction.
const proofKeyPrefix = "proof:"

// Cached serves repeated verifications of one transaction from a store, so
// every verification of a transaction carries the paymentId of the first.
type Cached struct {
	next  VerificationStrategy
	store models.PaymentStore
}

func NewCached(next VerificationStrategy, store models.PaymentStore) *Cached {
	return &Cached{next: next, store: store}
}

func (c *Cached) Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) (*models.PaymentVerification, error) {
	key, err := transactionKey(header)
	if err != nil {
		return nil, err
	}
	cached, err := c.store.GetVerificationByTransaction(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	v, err := c.next.Verify(ctx, header, request)
	if err != nil {
		return nil, err
	}
	if v == nil || !v.Verified {
		return v, nil
	}
	// a verification saved concurrently for the same transaction wins
	return c.store.SaveVerification(ctx, v)
}

// transactionKey identifies the payment a header refers to: the normalized
// transaction hash, or a digest of the proof for headers without one.
func transactionKey(header *models.PaymentHeader) (string, error) {
	if header == nil {
		return "", errors.New("missing payment header")
	}
	if strings.TrimSpace(header.Transaction) != "" {
		return blockchain.NormalizeTxHash(header.Transaction)
	}
	if header.Proof != "" {
		return proofKey(header.Proof), nil
	}
	return "", errors.New("payment header carries neither transaction nor proof")
}

func proofKey(proof string) string {
	sum := sha256.Sum256([]byte(proof))
	return proofKeyPrefix + hex.EncodeToString(sum[:])
}
