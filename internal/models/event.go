package models

import (
	"context"
	"fmt"
	"time"
)

// EventType names a payment, subscription or usage event.
type EventType string

const (
	EventPaymentReceived EventType = "payment_received"
	EventPaymentVerified EventType = "payment_verified"
	EventPaymentSettled  EventType = "payment_settled"
	EventPaymentFailed   EventType = "payment_failed"

	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionRenewed   EventType = "subscription_renewed"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionExpired   EventType = "subscription_expired"
	EventSubscriptionPastDue   EventType = "subscription_past_due"
	EventTrialStarted          EventType = "trial_started"
	EventTrialEnded            EventType = "trial_ended"

	EventUsageRecorded      EventType = "usage_recorded"
	EventUsageLimitExceeded EventType = "usage_limit_exceeded"
	EventUsageReset         EventType = "usage_reset"
)

// Event is published to every configured sink.
type Event struct {
	ID              string                 `json:"id"`
	Type            EventType              `json:"type"`
	Timestamp       time.Time              `json:"timestamp"`
	Service         string                 `json:"service,omitempty"`
	SubscriptionID  string                 `json:"subscriptionId,omitempty"`
	Subscriber      string                 `json:"subscriber,omitempty"`
	PlanID          string                 `json:"planId,omitempty"`
	PaymentID       string                 `json:"paymentId,omitempty"`
	TransactionHash string                 `json:"transactionHash,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
}

// String renders a one-line summary used by chat and e-mail sinks.
func (e *Event) String() string {
	subject := e.SubscriptionID
	if subject == "" {
		subject = e.PaymentID
	}
	if subject == "" {
		subject = e.Service
	}
	return fmt.Sprintf("[%s] %s %s", e.Timestamp.UTC().Format(time.RFC3339), e.Type, subject)
}

// EventSink receives events. Publish must not block on delivery.
type EventSink interface {
	Publish(ctx context.Context, event *Event)
}
