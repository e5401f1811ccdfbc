package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/x402/internal/billing"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

// UsageDelta is one usage report.
type UsageDelta struct {
	Requests int64 `json:"requests"`
	Tokens   int64 `json:"tokens"`
	// Bandwidth is a size string such as "512KB".
	Bandwidth string `json:"bandwidth"`
}

// Meter counts usage against subscription quotas.
type Meter struct {
	store   models.SubscriptionStore
	catalog *Catalog
	events  models.EventSink
	logger  *logger.Logger
	now     func() time.Time
}

func NewMeter(cfg Config) *Meter {
	cfg.setDefaults()
	return &Meter{
		store:   cfg.Store,
		catalog: cfg.Catalog,
		events:  cfg.Events,
		logger:  cfg.Logger.Named("meter"),
		now:     cfg.Now,
	}
}

// Record adds delta to the subscription's counters and appends an audit row.
// Quotas are not enforced here; ValidateAccess refuses the next request once
// a ceiling is reached.
func (m *Meter) Record(ctx context.Context, id string, delta UsageDelta) (*models.Subscription, error) {
	if delta.Requests < 0 {
		return nil, models.NewValidationError("requests", "must not be negative")
	}
	if delta.Tokens < 0 {
		return nil, models.NewValidationError("tokens", "must not be negative")
	}
	bytes, err := ParseSize(delta.Bandwidth)
	if err != nil {
		return nil, models.NewValidationError("bandwidth", err.Error())
	}

	sub, err := m.store.UpdateSubscription(ctx, id, func(s *models.Subscription) error {
		if s.Status == models.StatusCancelled || s.Status == models.StatusExpired {
			return fmt.Errorf("%w: subscription is %s", models.ErrSubscriptionInactive, s.Status)
		}
		s.Usage.Requests += delta.Requests
		s.Usage.Tokens += delta.Tokens
		s.Usage.Bandwidth += bytes
		s.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	plan, err := m.catalog.Plan(sub.PlanID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	metrics := &models.UsageMetrics{
		SubscriptionID: sub.ID,
		Subscriber:     sub.Subscriber,
		Period:         billing.PeriodKey(sub.Usage.ResetDate, sub.EndDate),
		Requests:       delta.Requests,
		Tokens:         delta.Tokens,
		Bandwidth:      bytes,
		Cost:           usageCost(plan, delta.Requests),
		Timestamp:      now,
	}
	if err := m.store.AppendUsage(ctx, metrics); err != nil {
		m.logger.Error("Failed to append usage metrics", "id", sub.ID, "error", err)
	}

	publish(ctx, m.events, now, models.EventUsageRecorded, sub, nil, map[string]interface{}{
		"requests":  delta.Requests,
		"tokens":    delta.Tokens,
		"bandwidth": bytes,
		"cost":      metrics.Cost.String(),
	})
	m.checkLimits(ctx, now, plan, sub)
	return sub, nil
}

// History lists the usage rows recorded for the subscription.
func (m *Meter) History(ctx context.Context, id string) ([]*models.UsageMetrics, error) {
	if _, err := m.store.GetSubscription(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListUsage(ctx, id)
}

func (m *Meter) checkLimits(ctx context.Context, now time.Time, plan *models.SubscriptionPlan, sub *models.Subscription) {
	if plan.MaxUsage == nil {
		return
	}
	exceeded := func(dimension string, used, limit int64) {
		if limit <= 0 || used < limit {
			return
		}
		m.logger.Warn("Usage limit reached", "id", sub.ID, "dimension", dimension, "used", used, "limit", limit)
		publish(ctx, m.events, now, models.EventUsageLimitExceeded, sub, nil, map[string]interface{}{
			"dimension": dimension,
			"used":      used,
			"limit":     limit,
		})
	}
	exceeded("requests", sub.Usage.Requests, plan.MaxUsage.Requests)
	exceeded("tokens", sub.Usage.Tokens, plan.MaxUsage.Tokens)
	exceeded("bandwidth", sub.Usage.Bandwidth, m.catalog.bandwidthLimit(plan.ID))
}

// usageCost charges the plan price pro rata over its request allowance.
func usageCost(plan *models.SubscriptionPlan, requests int64) decimal.Decimal {
	if plan.MaxUsage == nil || plan.MaxUsage.Requests <= 0 || requests == 0 {
		return decimal.Zero
	}
	return plan.Price.Mul(decimal.NewFromInt(requests)).Div(decimal.NewFromInt(plan.MaxUsage.Requests))
}
