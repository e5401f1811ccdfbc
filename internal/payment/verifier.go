package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
	"github.com/core-coin/x402/pkg/validation"
)

// ErrRequestExpired is reported when a payment arrives after its request expired.
var ErrRequestExpired = errors.New("payment request expired")

// VerificationStrategy checks a payment header against a request.
type VerificationStrategy interface {
	Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) (*models.PaymentVerification, error)
}

// Verifier wraps a strategy with expiry handling, invariant checks and events.
type Verifier struct {
	strategy VerificationStrategy
	events   models.EventSink
	logger   *logger.Logger
	now      func() time.Time
}

func NewVerifier(strategy VerificationStrategy, events models.EventSink, logger *logger.Logger, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	if events == nil {
		events = nopSink{}
	}
	return &Verifier{
		strategy: strategy,
		events:   events,
		logger:   logger.Named("verifier"),
		now:      now,
	}
}

// Verify returns the verification of a valid payment and nil otherwise.
// Failures are logged and published, never returned.
func (v *Verifier) Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) *models.PaymentVerification {
	if request == nil {
		v.logger.Warn("Verification without payment request")
		return nil
	}
	if header == nil {
		v.fail(ctx, request, nil, models.ErrPaymentRequired)
		return nil
	}

	emit(ctx, v.events, v.now(), models.EventPaymentReceived, request, nil, map[string]interface{}{
		"method":      header.Method,
		"network":     header.Network,
		"transaction": header.Transaction,
	})

	if request.Expired(v.now()) {
		v.fail(ctx, request, header, ErrRequestExpired)
		return nil
	}

	result, err := v.strategy.Verify(ctx, header, request)
	if err != nil {
		v.fail(ctx, request, header, err)
		return nil
	}
	if err := checkVerification(result, request); err != nil {
		v.fail(ctx, request, header, err)
		return nil
	}
	if request.Expired(v.now()) {
		v.fail(ctx, request, header, ErrRequestExpired)
		return nil
	}

	v.logger.Info("Payment verified", "paymentId", result.PaymentID, "tx", result.TransactionHash, "amount", result.Amount.String(), "currency", result.Currency)
	emit(ctx, v.events, v.now(), models.EventPaymentVerified, request, result, nil)
	return result
}

func (v *Verifier) fail(ctx context.Context, request *models.PaymentRequest, header *models.PaymentHeader, err error) {
	tx := ""
	if header != nil {
		tx = header.Transaction
	}
	v.logger.Warn("Payment verification failed", "request", request.ID, "tx", tx, "error", err)
	emit(ctx, v.events, v.now(), models.EventPaymentFailed, request, nil, map[string]interface{}{
		"transaction": tx,
		"error":       err.Error(),
	})
}

// checkVerification enforces that every accepted payment covers the request
// and went to its recipient, whichever strategy produced it.
func checkVerification(result *models.PaymentVerification, request *models.PaymentRequest) error {
	if result == nil || !result.Verified {
		return errors.New("payment not verified")
	}
	if result.Currency != "" && !strings.EqualFold(result.Currency, request.Currency) {
		return fmt.Errorf("paid in %s, requested %s", result.Currency, request.Currency)
	}
	if result.Amount.LessThan(request.Amount) {
		return models.NewInsufficientPaymentError(request.Amount, result.Amount)
	}
	if !validation.SameAddress(result.Recipient, request.Recipient) {
		return fmt.Errorf("paid to %s, requested %s", result.Recipient, request.Recipient)
	}
	return nil
}

type nopSink struct{}

func (nopSink) Publish(context.Context, *models.Event) {}

func emit(ctx context.Context, sink models.EventSink, now time.Time, typ models.EventType, request *models.PaymentRequest, v *models.PaymentVerification, data map[string]interface{}) {
	ev := &models.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: now,
		Data:      data,
	}
	if request != nil {
		if service, ok := request.Metadata["service"].(string); ok {
			ev.Service = service
		}
		if ev.Data == nil {
			ev.Data = make(map[string]interface{})
		}
		ev.Data["paymentRequestId"] = request.ID
		ev.Data["amount"] = request.Amount.String()
		ev.Data["currency"] = request.Currency
	}
	if v != nil {
		ev.PaymentID = v.PaymentID
		ev.TransactionHash = v.TransactionHash
		ev.Subscriber = v.Payer
	}
	sink.Publish(ctx, ev)
}
