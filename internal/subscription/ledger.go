package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/core-coin/x402/internal/billing"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/keylock"
	"github.com/core-coin/x402/pkg/logger"
)

// DefaultGracePeriod is how long a past_due subscription may still be renewed.
const DefaultGracePeriod = 3 * 24 * time.Hour

// errSkip aborts an UpdateSubscription without saving when a task no longer applies.
var errSkip = errors.New("task no longer applies")

// Config wires the ledger and the meter to their collaborators.
type Config struct {
	Store       models.SubscriptionStore
	Queue       models.TaskQueue
	Catalog     *Catalog
	Events      models.EventSink
	Logger      *logger.Logger
	Now         func() time.Time
	GracePeriod time.Duration
}

func (cfg *Config) setDefaults() {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = nopSink{}
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
}

type nopSink struct{}

func (nopSink) Publish(context.Context, *models.Event) {}

// Ledger owns the subscription state machine:
//
//	trial -> active | expired | cancelled
//	active -> active | past_due | cancelled
//	past_due -> active | expired | cancelled
//
// cancelled and expired are terminal.
type Ledger struct {
	store   models.SubscriptionStore
	queue   models.TaskQueue
	catalog *Catalog
	events  models.EventSink
	logger  *logger.Logger
	now     func() time.Time
	grace   time.Duration

	// createMu keeps the one-live-subscription check and the insert together.
	createMu keylock.Map
}

func NewLedger(cfg Config) *Ledger {
	cfg.setDefaults()
	return &Ledger{
		store:   cfg.Store,
		queue:   cfg.Queue,
		catalog: cfg.Catalog,
		events:  cfg.Events,
		logger:  cfg.Logger.Named("ledger"),
		now:     cfg.Now,
		grace:   cfg.GracePeriod,
	}
}

// Plan returns a configured plan.
func (l *Ledger) Plan(id string) (*models.SubscriptionPlan, error) {
	return l.catalog.Plan(id)
}

// Plans lists the configured plans.
func (l *Ledger) Plans() []*models.SubscriptionPlan {
	return l.catalog.Plans()
}

func (l *Ledger) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return l.store.GetSubscription(ctx, id)
}

// FindLive returns the subscriber's trial, active or past_due subscription to the plan.
func (l *Ledger) FindLive(ctx context.Context, subscriber, planID string) (*models.Subscription, error) {
	subs, err := l.store.FindSubscriptions(ctx, subscriber, planID)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.Status.Live() {
			return s, nil
		}
	}
	return nil, models.ErrSubscriptionNotFound
}

// CreateSubscription enrolls subscriber in the plan. Without a payment the
// subscription starts in trial when the plan offers one; otherwise the payment
// must cover the plan price.
func (l *Ledger) CreateSubscription(ctx context.Context, subscriber, planID string, payment *models.PaymentVerification) (*models.Subscription, error) {
	subscriber = strings.TrimSpace(subscriber)
	if subscriber == "" {
		return nil, models.NewValidationError("subscriber", "must not be empty")
	}
	plan, err := l.catalog.Plan(planID)
	if err != nil {
		return nil, err
	}
	if payment != nil {
		if err := coversPrice(plan, payment); err != nil {
			return nil, err
		}
	} else if plan.TrialPeriod <= 0 && plan.Price.IsPositive() {
		return nil, models.ErrPaymentRequired
	}

	unlock := l.createMu.Lock(subscriber + "|" + planID)
	defer unlock()

	if _, err := l.FindLive(ctx, subscriber, planID); err == nil {
		return nil, models.ErrSubscriptionExists
	} else if !errors.Is(err, models.ErrSubscriptionNotFound) {
		return nil, err
	}

	now := l.now()
	sub := &models.Subscription{
		ID:         uuid.NewString(),
		Subscriber: subscriber,
		PlanID:     plan.ID,
		StartDate:  now,
		Usage:      models.Usage{ResetDate: now},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var task *models.ScheduledTask
	if payment == nil && plan.TrialPeriod > 0 {
		trialEnd := billing.TrialEnd(now, plan.TrialPeriod)
		sub.Status = models.StatusTrial
		sub.TrialEndsAt = &trialEnd
		sub.EndDate = trialEnd
		sub.NextBillingDate = trialEnd
		task = newTask(sub.ID, models.TaskTrialExpiry, trialEnd)
	} else {
		end, err := billing.AddInterval(now, plan.Interval)
		if err != nil {
			return nil, err
		}
		sub.Status = models.StatusActive
		sub.EndDate = end
		sub.NextBillingDate = end
		if payment != nil {
			sub.PaymentHistory = []models.PaymentVerification{*payment}
		}
		task = newTask(sub.ID, models.TaskPeriodEnd, end)
	}

	if err := l.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	if err := l.queue.Schedule(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to schedule %s: %w", task.Kind, err)
	}

	l.logger.Info("Subscription created", "id", sub.ID, "subscriber", subscriber, "plan", plan.ID, "status", sub.Status)
	l.emit(ctx, models.EventSubscriptionCreated, sub, payment, nil)
	if sub.Status == models.StatusTrial {
		l.emit(ctx, models.EventTrialStarted, sub, nil, map[string]interface{}{"trialEndsAt": sub.TrialEndsAt})
	}
	return sub, nil
}

// RenewSubscription starts a new paid period. Counters are zeroed, dates are
// advanced and the period-end task is rescheduled before it returns. Renewing
// with a payment already in the history returns the subscription unchanged.
func (l *Ledger) RenewSubscription(ctx context.Context, id string, payment *models.PaymentVerification) (*models.Subscription, error) {
	if payment == nil {
		return nil, models.ErrPaymentRequired
	}

	var (
		replayed  bool
		wasTrial  bool
		plan      *models.SubscriptionPlan
		prevUsage models.Usage
	)
	sub, err := l.store.UpdateSubscription(ctx, id, func(s *models.Subscription) error {
		if s.HasPayment(payment.PaymentID) {
			replayed = true
			return errSkip
		}
		switch s.Status {
		case models.StatusTrial, models.StatusActive, models.StatusPastDue:
		default:
			return fmt.Errorf("%w: cannot renew %s subscription", models.ErrInvalidTransition, s.Status)
		}

		p, err := l.catalog.Plan(s.PlanID)
		if err != nil {
			return err
		}
		if err := coversPrice(p, payment); err != nil {
			return err
		}
		now := l.now()
		end, err := billing.AddInterval(now, p.Interval)
		if err != nil {
			return err
		}

		plan = p
		wasTrial = s.Status == models.StatusTrial
		prevUsage = s.Usage

		s.Status = models.StatusActive
		s.StartDate = now
		s.EndDate = end
		s.NextBillingDate = end
		s.PastDueSince = nil
		s.Usage = models.Usage{ResetDate: now}
		s.PaymentHistory = append(s.PaymentHistory, *payment)
		s.UpdatedAt = now
		return nil
	})
	if replayed {
		l.logger.Debug("Renewal payment already applied", "id", id, "paymentId", payment.PaymentID)
		return l.store.GetSubscription(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if err := l.queue.CancelFor(ctx, sub.ID); err != nil {
		return nil, fmt.Errorf("failed to cancel pending tasks: %w", err)
	}
	if err := l.queue.Schedule(ctx, newTask(sub.ID, models.TaskPeriodEnd, sub.EndDate)); err != nil {
		return nil, fmt.Errorf("failed to schedule period end: %w", err)
	}

	l.logger.Info("Subscription renewed", "id", sub.ID, "plan", plan.ID, "endDate", sub.EndDate)
	if wasTrial {
		l.emit(ctx, models.EventTrialEnded, sub, nil, map[string]interface{}{"converted": true})
	}
	l.emit(ctx, models.EventSubscriptionRenewed, sub, payment, nil)
	l.emit(ctx, models.EventUsageReset, sub, nil, map[string]interface{}{
		"previousRequests":  prevUsage.Requests,
		"previousTokens":    prevUsage.Tokens,
		"previousBandwidth": prevUsage.Bandwidth,
	})
	return sub, nil
}

// CancelSubscription ends the subscription immediately. Cancelling twice is an error.
func (l *Ledger) CancelSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	sub, err := l.store.UpdateSubscription(ctx, id, func(s *models.Subscription) error {
		if !s.Status.Live() {
			return fmt.Errorf("%w: cannot cancel %s subscription", models.ErrInvalidTransition, s.Status)
		}
		now := l.now()
		s.Status = models.StatusCancelled
		s.CancelledAt = &now
		s.EndDate = now
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := l.queue.CancelFor(ctx, id); err != nil {
		l.logger.Error("Failed to cancel pending tasks", "id", id, "error", err)
	}

	l.logger.Info("Subscription cancelled", "id", id)
	l.emit(ctx, models.EventSubscriptionCancelled, sub, nil, nil)
	return sub, nil
}

// ValidateAccess reports whether the subscription may serve one more request.
func (l *Ledger) ValidateAccess(ctx context.Context, id string) (*models.AccessResult, error) {
	sub, err := l.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.validate(sub)
}

func (l *Ledger) validate(sub *models.Subscription) (*models.AccessResult, error) {
	if !sub.Status.Usable() {
		return &models.AccessResult{Reason: fmt.Sprintf("Subscription is %s", sub.Status)}, nil
	}
	if l.now().After(sub.EndDate) {
		return &models.AccessResult{Reason: "Subscription expired"}, nil
	}

	plan, err := l.catalog.Plan(sub.PlanID)
	if err != nil {
		return nil, err
	}
	if q := plan.MaxUsage; q != nil {
		switch {
		case q.Requests > 0 && sub.Usage.Requests >= q.Requests:
			return &models.AccessResult{Reason: "Request limit exceeded"}, nil
		case q.Tokens > 0 && sub.Usage.Tokens >= q.Tokens:
			return &models.AccessResult{Reason: "Token limit exceeded"}, nil
		}
		if limit := l.catalog.bandwidthLimit(plan.ID); limit > 0 && sub.Usage.Bandwidth >= limit {
			return &models.AccessResult{Reason: "Bandwidth limit exceeded"}, nil
		}
	}
	return &models.AccessResult{Allowed: true, Remaining: l.remaining(plan, sub)}, nil
}

// Remaining reports what is left of the subscription's quota in the current period.
func (l *Ledger) Remaining(sub *models.Subscription) (*models.RemainingQuota, error) {
	plan, err := l.catalog.Plan(sub.PlanID)
	if err != nil {
		return nil, err
	}
	return l.remaining(plan, sub), nil
}

func (l *Ledger) remaining(plan *models.SubscriptionPlan, sub *models.Subscription) *models.RemainingQuota {
	r := &models.RemainingQuota{}
	if q := plan.MaxUsage; q != nil {
		if q.Requests > 0 {
			r.Requests = left(q.Requests, sub.Usage.Requests)
		}
		if q.Tokens > 0 {
			r.Tokens = left(q.Tokens, sub.Usage.Tokens)
		}
		if limit := l.catalog.bandwidthLimit(plan.ID); limit > 0 {
			r.Bandwidth = left(limit, sub.Usage.Bandwidth)
		}
	}
	return r
}

// HandleTask applies a due lifecycle transition. Tasks that no longer apply,
// for example a trial expiry after the trial converted, are ignored.
func (l *Ledger) HandleTask(ctx context.Context, task *models.ScheduledTask) error {
	var err error
	switch task.Kind {
	case models.TaskTrialExpiry:
		err = l.expireTrial(ctx, task.SubscriptionID)
	case models.TaskPeriodEnd:
		err = l.endPeriod(ctx, task.SubscriptionID)
	case models.TaskGraceExpiry:
		err = l.endGrace(ctx, task.SubscriptionID)
	default:
		l.logger.Warn("Unknown task kind", "task", task.ID, "kind", task.Kind)
		return nil
	}
	if errors.Is(err, errSkip) || errors.Is(err, models.ErrSubscriptionNotFound) {
		l.logger.Debug("Task skipped", "task", task.ID, "reason", err)
		return nil
	}
	return err
}

func (l *Ledger) expireTrial(ctx context.Context, id string) error {
	sub, err := l.store.UpdateSubscription(ctx, id, func(s *models.Subscription) error {
		now := l.now()
		if s.Status != models.StatusTrial || s.TrialEndsAt == nil || now.Before(*s.TrialEndsAt) {
			return errSkip
		}
		s.Status = models.StatusExpired
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("Trial expired", "id", id)
	l.emit(ctx, models.EventTrialEnded, sub, nil, map[string]interface{}{"converted": false})
	l.emit(ctx, models.EventSubscriptionExpired, sub, nil, nil)
	return nil
}

func (l *Ledger) endPeriod(ctx context.Context, id string) error {
	sub, err := l.store.UpdateSubscription(ctx, id, func(s *models.Subscription) error {
		now := l.now()
		if s.Status != models.StatusActive || now.Before(s.EndDate) {
			return errSkip
		}
		s.Status = models.StatusPastDue
		s.PastDueSince = &now
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return err
	}

	graceEnd := sub.EndDate.Add(l.grace)
	if err := l.queue.Schedule(ctx, newTask(id, models.TaskGraceExpiry, graceEnd)); err != nil {
		return fmt.Errorf("failed to schedule grace expiry: %w", err)
	}
	l.logger.Info("Subscription past due", "id", id, "graceEndsAt", graceEnd)
	l.emit(ctx, models.EventSubscriptionPastDue, sub, nil, map[string]interface{}{"graceEndsAt": graceEnd})
	return nil
}

func (l *Ledger) endGrace(ctx context.Context, id string) error {
	sub, err := l.store.UpdateSubscription(ctx, id, func(s *models.Subscription) error {
		if s.Status != models.StatusPastDue {
			return errSkip
		}
		s.Status = models.StatusExpired
		s.UpdatedAt = l.now()
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("Subscription expired", "id", id)
	l.emit(ctx, models.EventSubscriptionExpired, sub, nil, nil)
	return nil
}

func (l *Ledger) emit(ctx context.Context, typ models.EventType, sub *models.Subscription, payment *models.PaymentVerification, data map[string]interface{}) {
	publish(ctx, l.events, l.now(), typ, sub, payment, data)
}

func publish(ctx context.Context, sink models.EventSink, now time.Time, typ models.EventType, sub *models.Subscription, payment *models.PaymentVerification, data map[string]interface{}) {
	ev := &models.Event{
		ID:             uuid.NewString(),
		Type:           typ,
		Timestamp:      now,
		SubscriptionID: sub.ID,
		Subscriber:     sub.Subscriber,
		PlanID:         sub.PlanID,
		Data:           data,
	}
	if payment != nil {
		ev.PaymentID = payment.PaymentID
		ev.TransactionHash = payment.TransactionHash
	}
	sink.Publish(ctx, ev)
}

func coversPrice(plan *models.SubscriptionPlan, payment *models.PaymentVerification) error {
	if !payment.Verified {
		return models.ErrPaymentRequired
	}
	if payment.Currency != "" && plan.Currency != "" && !strings.EqualFold(payment.Currency, plan.Currency) {
		return models.NewValidationError("currency", fmt.Sprintf("plan is priced in %s, paid in %s", plan.Currency, payment.Currency))
	}
	if payment.Amount.LessThan(plan.Price) {
		return models.NewInsufficientPaymentError(plan.Price, payment.Amount)
	}
	return nil
}

func newTask(subscriptionID string, kind models.TaskKind, due time.Time) *models.ScheduledTask {
	return &models.ScheduledTask{
		ID:             models.TaskID(subscriptionID, kind),
		SubscriptionID: subscriptionID,
		Kind:           kind,
		DueAt:          due,
	}
}

func left(limit, used int64) *int64 {
	v := limit - used
	if v < 0 {
		v = 0
	}
	return &v
}
