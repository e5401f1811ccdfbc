package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

// Settler finalizes a verified payment with a remote party.
type Settler interface {
	Settle(ctx context.Context, header *models.PaymentHeader, v *models.PaymentVerification) error
}

// Outcome is the result of a settlement attempt.
type Outcome struct {
	Settled bool
	// Replayed is set when the payment had been settled before; nothing was credited again.
	Replayed   bool
	Settlement *models.Settlement
}

// Coordinator records each verified payment exactly once.
type Coordinator struct {
	store   models.PaymentStore
	settler Settler
	events  models.EventSink
	logger  *logger.Logger
	now     func() time.Time
}

// NewCoordinator creates a coordinator. settler may be nil when payments are
// final once mined.
func NewCoordinator(store models.PaymentStore, settler Settler, events models.EventSink, logger *logger.Logger, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = nopSink{}
	}
	return &Coordinator{
		store:   store,
		settler: settler,
		events:  events,
		logger:  logger.Named("settlement"),
		now:     now,
	}
}

// Settle credits the verified payment to reference, a service name or a
// subscription. Settling the same payment again reports Replayed.
func (c *Coordinator) Settle(ctx context.Context, reference string, header *models.PaymentHeader, v *models.PaymentVerification) Outcome {
	if v == nil || !v.Verified {
		return Outcome{}
	}

	existing, err := c.store.GetSettlement(ctx, v.PaymentID)
	if err == nil {
		c.logger.Debug("Payment already settled", "paymentId", v.PaymentID, "reference", existing.Reference)
		return Outcome{Settled: true, Replayed: true, Settlement: existing}
	}
	if !errors.Is(err, models.ErrNotFound) {
		c.logger.Error("Failed to look up settlement", "paymentId", v.PaymentID, "error", err)
		return Outcome{}
	}

	if c.settler != nil {
		if err := c.settler.Settle(ctx, header, v); err != nil {
			c.logger.Warn("Payment settlement failed", "paymentId", v.PaymentID, "error", err)
			c.publish(ctx, models.EventPaymentFailed, reference, v, map[string]interface{}{"error": err.Error(), "stage": "settle"})
			return Outcome{}
		}
	}

	s := &models.Settlement{
		PaymentID:       v.PaymentID,
		Reference:       reference,
		TransactionHash: v.TransactionHash,
		Payer:           v.Payer,
		Amount:          v.Amount,
		Currency:        v.Currency,
		SettledAt:       c.now(),
	}
	inserted, err := c.store.SaveSettlement(ctx, s)
	if err != nil {
		c.logger.Error("Failed to record settlement", "paymentId", v.PaymentID, "error", err)
		return Outcome{}
	}
	if !inserted {
		existing, err := c.store.GetSettlement(ctx, v.PaymentID)
		if err != nil {
			c.logger.Error("Failed to load settlement", "paymentId", v.PaymentID, "error", err)
			return Outcome{}
		}
		return Outcome{Settled: true, Replayed: true, Settlement: existing}
	}

	c.logger.Info("Payment settled", "paymentId", v.PaymentID, "reference", reference, "amount", v.Amount.String(), "currency", v.Currency)
	c.publish(ctx, models.EventPaymentSettled, reference, v, nil)
	return Outcome{Settled: true, Settlement: s}
}

func (c *Coordinator) publish(ctx context.Context, typ models.EventType, reference string, v *models.PaymentVerification, data map[string]interface{}) {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["reference"] = reference
	data["amount"] = v.Amount.String()
	data["currency"] = v.Currency
	emit(ctx, c.events, c.now(), typ, nil, v, data)
}

// Revenue totals the settled payments credited to one reference.
func (c *Coordinator) Revenue(ctx context.Context, reference string) (*models.Revenue, error) {
	rows, err := c.store.ListSettlements(ctx, reference)
	if err != nil {
		return nil, err
	}
	r := &models.Revenue{Reference: reference, Totals: make(map[string]decimal.Decimal)}
	for _, s := range rows {
		r.Payments++
		r.Totals[s.Currency] = r.Totals[s.Currency].Add(s.Amount)
	}
	return r, nil
}
