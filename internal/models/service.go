package models

import "github.com/shopspring/decimal"

// PricingType names a pricing mode in configuration files.
type PricingType string

const (
	PricingFree         PricingType = "free"
	PricingPerRequest   PricingType = "per_request"
	PricingSubscription PricingType = "subscription"
)

// Pricing is the pricing policy of a service. The set of implementations is
// closed: FreePricing, PerRequestPricing and SubscriptionPricing.
type Pricing interface {
	Type() PricingType
	sealed()
}

// FreePricing grants access unconditionally.
type FreePricing struct{}

func (FreePricing) Type() PricingType { return PricingFree }
func (FreePricing) sealed()           {}

// PerRequestPricing requires one payment per request.
type PerRequestPricing struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`
}

func (PerRequestPricing) Type() PricingType { return PricingPerRequest }
func (PerRequestPricing) sealed()           {}

// SubscriptionPricing requires a usable subscription to the plan.
type SubscriptionPricing struct {
	PlanID string `json:"planId"`
}

func (SubscriptionPricing) Type() PricingType { return PricingSubscription }
func (SubscriptionPricing) sealed()           {}

// RateLimits bounds the request rate of one subscriber on one service.
type RateLimits struct {
	RequestsPerMinute int `json:"requestsPerMinute,omitempty"`
	Burst             int `json:"burst,omitempty"`
}

// Authentication lists the API keys accepted by a service. An empty list disables the check.
type Authentication struct {
	Type    string   `json:"type"`
	APIKeys []string `json:"-"`
}

// AgentServiceConfig is the pricing policy of one named endpoint.
type AgentServiceConfig struct {
	Name           string          `json:"name"`
	Endpoint       string          `json:"endpoint"`
	Pricing        Pricing         `json:"-"`
	RateLimits     *RateLimits     `json:"rateLimits,omitempty"`
	Authentication *Authentication `json:"authentication,omitempty"`
}

// AccessRequest is one request for a service.
type AccessRequest struct {
	Subscriber string
	APIKey     string
	Payment    *PaymentHeader
	// Tokens and Bandwidth are metered against subscriptions in addition to the request itself.
	Tokens    int64
	Bandwidth string
	// Resource is the URL the caller asked for, echoed in payment challenges.
	Resource string
}

// AccessDecision is the outcome of routing a request.
type AccessDecision struct {
	Allowed              bool                 `json:"allowed"`
	Reason               string               `json:"reason,omitempty"`
	PaymentRequired      *PaymentRequest      `json:"paymentRequired,omitempty"`
	Challenge            *X402Response        `json:"challenge,omitempty"`
	SubscriptionRequired []*SubscriptionPlan  `json:"subscriptionRequired,omitempty"`
	Subscription         *Subscription        `json:"subscription,omitempty"`
	Remaining            *RemainingQuota      `json:"remaining,omitempty"`
	Verification         *PaymentVerification `json:"verification,omitempty"`
	Settlement           *Settlement          `json:"settlement,omitempty"`
	RateLimited          bool                 `json:"-"`
}
