package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// X402Version is the protocol version announced in payment challenges.
const X402Version = 1

// PaymentMethod identifies how a payment is transferred on chain.
type PaymentMethod string

const (
	// MethodNative is a plain transfer of the chain currency (XCB).
	MethodNative PaymentMethod = "native"
	// MethodToken is a CBC20 token transfer (Core's ERC20-style standard).
	MethodToken PaymentMethod = "cbc20"
)

// PaymentRequest is an invoice for one unit of paid access. It is never mutated.
type PaymentRequest struct {
	ID          string                 `json:"id"`
	Amount      decimal.Decimal        `json:"amount"`
	Currency    string                 `json:"currency"`
	Recipient   string                 `json:"recipient"`
	Description string                 `json:"description,omitempty"`
	ExpiresAt   time.Time              `json:"expiresAt"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the request can no longer be paid at the given time.
func (r *PaymentRequest) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// PaymentHeader is the client's claim of payment, consumed once.
type PaymentHeader struct {
	Method      PaymentMethod          `json:"method"`
	Network     string                 `json:"network"`
	Transaction string                 `json:"transaction,omitempty"`
	Proof       string                 `json:"proof,omitempty"`
	Signature   string                 `json:"signature,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PaymentVerification is proof that a payment satisfied a request.
type PaymentVerification struct {
	// PaymentID is unique per verified payment.
	PaymentID string `json:"paymentId" gorm:"column:payment_id;primaryKey"`
	// TransactionHash is the on-chain transaction reference.
	TransactionHash string          `json:"transactionHash" gorm:"column:transaction_hash;uniqueIndex"`
	Amount          decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric"`
	Currency        string          `json:"currency" gorm:"column:currency"`
	Payer           string          `json:"payer" gorm:"column:payer;index"`
	Recipient       string          `json:"recipient" gorm:"column:recipient"`
	BlockNumber     uint64          `json:"blockNumber" gorm:"column:block_number"`
	Timestamp       time.Time       `json:"timestamp" gorm:"column:timestamp"`
	Verified        bool            `json:"verified" gorm:"column:verified"`
}

// TableName specifies the table name for GORM
func (PaymentVerification) TableName() string {
	return "payment_verifications"
}

// Settlement records that a verified payment was made final and credited.
type Settlement struct {
	PaymentID string `json:"paymentId" gorm:"column:payment_id;primaryKey"`
	// Reference names what the payment was credited to: a service name or a subscription.
	Reference       string          `json:"reference" gorm:"column:reference;index"`
	TransactionHash string          `json:"transactionHash,omitempty" gorm:"column:transaction_hash"`
	Payer           string          `json:"payer" gorm:"column:payer"`
	Amount          decimal.Decimal `json:"amount" gorm:"column:amount;type:numeric"`
	Currency        string          `json:"currency" gorm:"column:currency"`
	SettledAt       time.Time       `json:"settledAt" gorm:"column:settled_at;index"`
}

// TableName specifies the table name for GORM
func (Settlement) TableName() string {
	return "settlements"
}

// Revenue totals the settled payments credited to one reference, per currency.
type Revenue struct {
	Reference string                     `json:"reference"`
	Payments  int                        `json:"payments"`
	Totals    map[string]decimal.Decimal `json:"totals"`
}

// PlanReference is the settlement reference of payments for a plan.
func PlanReference(planID string) string {
	return "plan:" + planID
}

// PaymentAccept is one acceptable way to satisfy a challenge.
type PaymentAccept struct {
	Method      PaymentMethod          `json:"method"`
	Network     string                 `json:"network"`
	To          string                 `json:"to"`
	Amount      string                 `json:"amount"`
	Currency    string                 `json:"currency"`
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// X402Response is the protocol-level payment challenge.
type X402Response struct {
	X402Version int             `json:"x402Version"`
	Accepts     []PaymentAccept `json:"accepts"`
}
