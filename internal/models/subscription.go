package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingInterval is the renewal period of a plan.
type BillingInterval string

const (
	IntervalDaily   BillingInterval = "daily"
	IntervalWeekly  BillingInterval = "weekly"
	IntervalMonthly BillingInterval = "monthly"
	IntervalYearly  BillingInterval = "yearly"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// Live reports whether the subscription still occupies the subscriber's slot for its plan.
func (s SubscriptionStatus) Live() bool {
	return s == StatusTrial || s == StatusActive || s == StatusPastDue
}

// Usable reports whether the status grants access.
func (s SubscriptionStatus) Usable() bool {
	return s == StatusTrial || s == StatusActive
}

// Quota is the per-period ceiling of a plan. Zero values mean unlimited.
type Quota struct {
	Requests int64 `json:"requests,omitempty" yaml:"requests"`
	Tokens   int64 `json:"tokens,omitempty" yaml:"tokens"`
	// Bandwidth is a size string such as "10GB".
	Bandwidth string `json:"bandwidth,omitempty" yaml:"bandwidth"`
}

// SubscriptionPlan is a billing offer. Plans are read-only once configured.
type SubscriptionPlan struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Currency    string          `json:"currency"`
	Interval    BillingInterval `json:"interval"`
	Features    []string        `json:"features,omitempty"`
	MaxUsage    *Quota          `json:"maxUsage,omitempty"`
	// TrialPeriod is the trial length in days; zero disables the trial.
	TrialPeriod int `json:"trialPeriod,omitempty"`
}

// Usage holds the counters of the current billing period.
type Usage struct {
	Requests int64 `json:"requests" gorm:"column:requests"`
	Tokens   int64 `json:"tokens" gorm:"column:tokens"`
	// Bandwidth is in bytes.
	Bandwidth int64     `json:"bandwidth" gorm:"column:bandwidth"`
	ResetDate time.Time `json:"resetDate" gorm:"column:reset_date"`
}

// Subscription is a subscriber's enrollment in a plan.
type Subscription struct {
	ID              string             `json:"id" gorm:"column:id;primaryKey"`
	Subscriber      string             `json:"subscriber" gorm:"column:subscriber;index"`
	PlanID          string             `json:"planId" gorm:"column:plan_id;index"`
	Status          SubscriptionStatus `json:"status" gorm:"column:status;index"`
	StartDate       time.Time          `json:"startDate" gorm:"column:start_date"`
	EndDate         time.Time          `json:"endDate" gorm:"column:end_date"`
	NextBillingDate time.Time          `json:"nextBillingDate" gorm:"column:next_billing_date"`
	TrialEndsAt     *time.Time         `json:"trialEndsAt,omitempty" gorm:"column:trial_ends_at"`
	CancelledAt     *time.Time         `json:"cancelledAt,omitempty" gorm:"column:cancelled_at"`
	PastDueSince    *time.Time         `json:"pastDueSince,omitempty" gorm:"column:past_due_since"`
	Usage           Usage              `json:"usage" gorm:"embedded;embeddedPrefix:usage_"`
	// PaymentHistory lists the verifications credited to this subscription, keyed by PaymentID.
	PaymentHistory []PaymentVerification `json:"paymentHistory" gorm:"column:payment_history;serializer:json"`
	CreatedAt      time.Time             `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt      time.Time             `json:"updatedAt" gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// HasPayment reports whether a payment was already credited to the subscription.
func (s *Subscription) HasPayment(paymentID string) bool {
	for _, p := range s.PaymentHistory {
		if p.PaymentID == paymentID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.TrialEndsAt = cloneTime(s.TrialEndsAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.PastDueSince = cloneTime(s.PastDueSince)
	if s.PaymentHistory != nil {
		c.PaymentHistory = make([]PaymentVerification, len(s.PaymentHistory))
		copy(c.PaymentHistory, s.PaymentHistory)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// UsageMetrics is one usage event kept for audit. Rows are append-only.
type UsageMetrics struct {
	ID             int64  `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	SubscriptionID string `json:"subscriptionId" gorm:"column:subscription_id;index"`
	Subscriber     string `json:"subscriber" gorm:"column:subscriber;index"`
	// Period is the billing period key "<resetDate>_<endDate>".
	Period    string          `json:"period" gorm:"column:period;index"`
	Requests  int64           `json:"requests" gorm:"column:requests"`
	Tokens    int64           `json:"tokens" gorm:"column:tokens"`
	Bandwidth int64           `json:"bandwidth" gorm:"column:bandwidth"`
	Cost      decimal.Decimal `json:"cost" gorm:"column:cost;type:numeric"`
	Timestamp time.Time       `json:"timestamp" gorm:"column:timestamp"`
}

// TableName specifies the table name for GORM
func (UsageMetrics) TableName() string {
	return "usage_metrics"
}

// RemainingQuota is what is left in the current period. A nil dimension is unlimited.
type RemainingQuota struct {
	Requests  *int64 `json:"requests,omitempty"`
	Tokens    *int64 `json:"tokens,omitempty"`
	Bandwidth *int64 `json:"bandwidth,omitempty"`
}

// AccessResult is the outcome of validating a subscription for one request.
type AccessResult struct {
	Allowed   bool            `json:"allowed"`
	Reason    string          `json:"reason,omitempty"`
	Remaining *RemainingQuota `json:"remaining,omitempty"`
}
