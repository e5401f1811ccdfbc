package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/validation"
)

// DefaultRequestTTL is how long a payment request can be paid.
const DefaultRequestTTL = time.Hour

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Network is announced in challenges, e.g. "xcb" or "xab".
	Network string
	// NativeCurrency is the chain currency symbol and the default request currency.
	NativeCurrency string
	TTL            time.Duration
	Tokens         models.TokenRegistry
	Now            func() time.Time
}

// Builder creates payment requests and x402 challenges.
type Builder struct {
	network string
	native  string
	ttl     time.Duration
	tokens  models.TokenRegistry
	now     func() time.Time
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRequestTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NativeCurrency == "" {
		cfg.NativeCurrency = "XCB"
	}
	return &Builder{
		network: cfg.Network,
		native:  strings.ToUpper(cfg.NativeCurrency),
		ttl:     cfg.TTL,
		tokens:  cfg.Tokens,
		now:     cfg.Now,
	}
}

// RequestOptions are the optional fields of a payment request.
type RequestOptions struct {
	Currency    string
	Description string
	// TTL overrides the builder's default expiry.
	TTL      time.Duration
	Metadata map[string]interface{}
}

// Build creates a payment request for amount payable to recipient.
func (b *Builder) Build(amount decimal.Decimal, recipient string, opts RequestOptions) (*models.PaymentRequest, error) {
	if !amount.IsPositive() {
		return nil, models.NewValidationError("amount", "must be positive")
	}
	recipient = strings.TrimSpace(recipient)
	if err := validation.ValidateAddress(recipient); err != nil {
		return nil, models.NewValidationError("recipient", err.Error())
	}

	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	if currency == "" {
		currency = b.native
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = b.ttl
	}

	metadata := make(map[string]interface{}, len(opts.Metadata))
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	return &models.PaymentRequest{
		ID:          uuid.NewString(),
		Amount:      amount,
		Currency:    currency,
		Recipient:   recipient,
		Description: opts.Description,
		ExpiresAt:   b.now().Add(ttl),
		Metadata:    metadata,
	}, nil
}

// X402Response turns payment requests into the challenge sent with a 402.
func (b *Builder) X402Response(requests []*models.PaymentRequest, resource string) *models.X402Response {
	resp := &models.X402Response{
		X402Version: models.X402Version,
		Accepts:     make([]models.PaymentAccept, 0, len(requests)),
	}
	for _, r := range requests {
		metadata := map[string]interface{}{
			"resource":         resource,
			"expiresAt":        r.ExpiresAt.UTC().Format(time.RFC3339),
			"paymentRequestId": r.ID,
		}
		method := models.MethodNative
		if !b.IsNative(r.Currency) {
			method = models.MethodToken
			if token, ok := b.lookup(r.Currency); ok {
				metadata["asset"] = token.Address
				metadata["decimals"] = token.Decimals
			}
		}
		resp.Accepts = append(resp.Accepts, models.PaymentAccept{
			Method:      method,
			Network:     b.network,
			To:          r.Recipient,
			Amount:      r.Amount.String(),
			Currency:    r.Currency,
			Description: r.Description,
			Metadata:    metadata,
		})
	}
	return resp
}

// IsNative reports whether currency is the chain currency.
func (b *Builder) IsNative(currency string) bool {
	if strings.EqualFold(currency, b.native) {
		return true
	}
	token, ok := b.lookup(currency)
	return ok && token.Native
}

func (b *Builder) lookup(currency string) (*models.Token, bool) {
	if b.tokens == nil {
		return nil, false
	}
	return b.tokens.Lookup(currency)
}
