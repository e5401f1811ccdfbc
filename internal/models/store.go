package models

import (
	"context"
	"time"
)

// SubscriptionStore persists subscriptions and their usage log.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	// UpdateSubscription loads the subscription, applies fn and saves the result
	// atomically. Concurrent updates of the same subscription are serialized.
	// When fn returns an error nothing is saved.
	UpdateSubscription(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error)
	FindSubscriptions(ctx context.Context, subscriber, planID string) ([]*Subscription, error)

	AppendUsage(ctx context.Context, metrics *UsageMetrics) error
	ListUsage(ctx context.Context, subscriptionID string) ([]*UsageMetrics, error)
}

// PaymentStore keeps verified payments and settlements.
type PaymentStore interface {
	// SaveVerification stores v unless a verification of the same transaction
	// exists, in which case the stored one is returned.
	SaveVerification(ctx context.Context, v *PaymentVerification) (*PaymentVerification, error)
	GetVerificationByTransaction(ctx context.Context, txHash string) (*PaymentVerification, error)

	GetSettlement(ctx context.Context, paymentID string) (*Settlement, error)
	// SaveSettlement records s and reports false when a settlement for the same
	// payment already existed.
	SaveSettlement(ctx context.Context, s *Settlement) (bool, error)
	ListSettlements(ctx context.Context, reference string) ([]*Settlement, error)
}

// TaskQueue is a durable time-ordered queue of subscription transitions.
type TaskQueue interface {
	// Schedule inserts the task or replaces a pending task with the same ID.
	Schedule(ctx context.Context, task *ScheduledTask) error
	CancelFor(ctx context.Context, subscriptionID string) error
	// PopDue removes and returns up to limit tasks due at or before now, earliest first.
	PopDue(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error)
}

// Store bundles every persistence concern of the engine.
type Store interface {
	SubscriptionStore
	PaymentStore
	TaskQueue
	Close() error
}
