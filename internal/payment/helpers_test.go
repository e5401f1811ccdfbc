package payment

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/x402/internal/models"
)

const (
	recipient = "cb27de521e43741cf785cbad450d5649187b9612018f"
	payer     = "cb57bbbb54cdf60fa666fd741be78f794d4608d67109"
	ctnAddr   = "cb19c7acc4c292d2943ba23c2eaa5d9c5a6652a8710c"
	txHash    = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recorder) Publish(_ context.Context, ev *models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type tokenMap map[string]*models.Token

func (m tokenMap) Lookup(currency string) (*models.Token, bool) {
	t, ok := m[currency]
	return t, ok
}

var testTokens = tokenMap{
	"CTN":  {Symbol: "CTN", Address: ctnAddr, Decimals: 18},
	"USDX": {Symbol: "USDX", Address: "cb39000000000000000000000000000000000000aaaa", Decimals: 6},
}

func request(amount string, currency string) *models.PaymentRequest {
	return &models.PaymentRequest{
		ID:        "req-1",
		Amount:    decimal.RequireFromString(amount),
		Currency:  currency,
		Recipient: recipient,
		ExpiresAt: testNow.Add(time.Hour),
		Metadata:  map[string]interface{}{"resource": "https://api.example.com/weather", "service": "weather"},
	}
}
