package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/payment"
)

// PlanChallenge issues a payment request for one period of a plan.
func (e *Engine) PlanChallenge(planID, resource string) (*models.PaymentRequest, *models.X402Response, error) {
	plan, err := e.ledger.Plan(planID)
	if err != nil {
		return nil, nil, err
	}
	return e.planChallenge(plan, resource)
}

func (e *Engine) planChallenge(plan *models.SubscriptionPlan, resource string) (*models.PaymentRequest, *models.X402Response, error) {
	request, err := e.builder.Build(plan.Price, e.recipient, payment.RequestOptions{
		Currency:    plan.Currency,
		Description: "Subscription to " + plan.Name,
		Metadata:    map[string]interface{}{"plan": plan.ID, "resource": resource},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("plan %s: %w", plan.ID, err)
	}
	return request, e.builder.X402Response([]*models.PaymentRequest{request}, resource), nil
}

// CreateSubscription settles the payment, when one is supplied, before the
// subscription is created, so a payment is credited at most once.
func (e *Engine) CreateSubscription(ctx context.Context, subscriber, planID string, header *models.PaymentHeader) (*models.Subscription, error) {
	plan, err := e.ledger.Plan(planID)
	if err != nil {
		return nil, err
	}
	if header == nil || !plan.Price.IsPositive() {
		return e.ledger.CreateSubscription(ctx, subscriber, planID, nil)
	}

	if _, err := e.ledger.FindLive(ctx, subscriber, planID); err == nil {
		return nil, models.ErrSubscriptionExists
	} else if !errors.Is(err, models.ErrSubscriptionNotFound) {
		return nil, err
	}

	v, err := e.pay(ctx, plan, header)
	if err != nil {
		return nil, err
	}
	sub, err := e.ledger.CreateSubscription(ctx, subscriber, planID, v)
	if err != nil {
		e.logger.Error("Settled payment not credited", "paymentId", v.PaymentID, "subscriber", subscriber, "plan", planID, "error", err)
		return nil, err
	}
	return sub, nil
}

// RenewSubscription settles the payment and starts a new period.
func (e *Engine) RenewSubscription(ctx context.Context, id string, header *models.PaymentHeader) (*models.Subscription, error) {
	if header == nil {
		return nil, models.ErrPaymentRequired
	}
	sub, err := e.ledger.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Status.Live() {
		return nil, fmt.Errorf("%w: cannot renew %s subscription", models.ErrInvalidTransition, sub.Status)
	}
	plan, err := e.ledger.Plan(sub.PlanID)
	if err != nil {
		return nil, err
	}

	v, err := e.pay(ctx, plan, header)
	if err != nil {
		return nil, err
	}
	renewed, err := e.ledger.RenewSubscription(ctx, id, v)
	if err != nil {
		e.logger.Error("Settled payment not credited", "paymentId", v.PaymentID, "subscription", id, "error", err)
		return nil, err
	}
	return renewed, nil
}

func (e *Engine) pay(ctx context.Context, plan *models.SubscriptionPlan, header *models.PaymentHeader) (*models.PaymentVerification, error) {
	request, _, err := e.planChallenge(plan, "")
	if err != nil {
		return nil, err
	}
	v := e.verifier.Verify(ctx, header, request)
	if v == nil {
		return nil, fmt.Errorf("%w: verification failed", models.ErrPaymentRequired)
	}
	out := e.coordinator.Settle(ctx, models.PlanReference(plan.ID), header, v)
	if !out.Settled {
		return nil, fmt.Errorf("%w: settlement failed", models.ErrPaymentRequired)
	}
	if out.Replayed {
		return nil, models.ErrPaymentAlreadyUsed
	}
	return v, nil
}
