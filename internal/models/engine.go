package models

import "context"

// BillingEngine is everything the HTTP API and the CLI need from the engine.
type BillingEngine interface {
	// Start runs background workers until Stop.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Services lists the configured services ordered by name.
	Services() []*AgentServiceConfig
	// Challenge issues a payment request for a per-request service.
	Challenge(service, resource string) (*PaymentRequest, *X402Response, error)
	// Decide routes one request for a service.
	Decide(ctx context.Context, service string, req AccessRequest) (*AccessDecision, error)
	// Revenue totals the settled payments of a service or a plan reference.
	Revenue(ctx context.Context, reference string) (*Revenue, error)

	Plans() []*SubscriptionPlan
	// PlanChallenge issues a payment request for a plan's price.
	PlanChallenge(planID, resource string) (*PaymentRequest, *X402Response, error)

	// CreateSubscription enrolls subscriber in a plan. A nil payment starts a
	// trial when the plan offers one.
	CreateSubscription(ctx context.Context, subscriber, planID string, payment *PaymentHeader) (*Subscription, error)
	RenewSubscription(ctx context.Context, id string, payment *PaymentHeader) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ValidateAccess(ctx context.Context, id string) (*AccessResult, error)

	RecordUsage(ctx context.Context, id string, requests, tokens int64, bandwidth string) (*Subscription, error)
	UsageHistory(ctx context.Context, id string) ([]*UsageMetrics, error)

	// SubscribeEvents streams published events until cancel is called.
	SubscribeEvents(buffer int) (events <-chan *Event, cancel func())
}
