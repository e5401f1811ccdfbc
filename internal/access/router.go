package access

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/payment"
	"github.com/core-coin/x402/internal/subscription"
	"github.com/core-coin/x402/pkg/logger"
)

// Denial reasons returned to callers.
const (
	ReasonRateLimited          = "Rate limit exceeded"
	ReasonInvalidAPIKey        = "Invalid API key"
	ReasonPaymentRequired      = "Payment required"
	ReasonSubscriptionRequired = "Subscription required"
	ReasonVerificationFailed   = "Payment verification failed"
	ReasonSettlementFailed     = "Payment settlement failed"
	ReasonPaymentUsed          = "Payment already used"
	ReasonUnknownRequest       = "Unknown or expired payment request"
)

// RequestIDKey is the payment header metadata key naming the challenge a
// payment answers.
const RequestIDKey = "paymentRequestId"

// Ledger is the part of the subscription ledger the router consults.
type Ledger interface {
	Plan(id string) (*models.SubscriptionPlan, error)
	FindLive(ctx context.Context, subscriber, planID string) (*models.Subscription, error)
	ValidateAccess(ctx context.Context, id string) (*models.AccessResult, error)
	Remaining(sub *models.Subscription) (*models.RemainingQuota, error)
}

// Meter records usage of a subscription.
type Meter interface {
	Record(ctx context.Context, id string, delta subscription.UsageDelta) (*models.Subscription, error)
}

// RequestBuilder issues payment requests and challenges.
type RequestBuilder interface {
	Build(amount decimal.Decimal, recipient string, opts payment.RequestOptions) (*models.PaymentRequest, error)
	X402Response(requests []*models.PaymentRequest, resource string) *models.X402Response
}

// Verifier checks a payment against a request.
type Verifier interface {
	Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) *models.PaymentVerification
}

// Settler records verified payments.
type Settler interface {
	Settle(ctx context.Context, reference string, header *models.PaymentHeader, v *models.PaymentVerification) payment.Outcome
}

// Config wires a Router.
type Config struct {
	Services []*models.AgentServiceConfig
	// Recipient receives per-request payments.
	Recipient string
	Ledger    Ledger
	Meter     Meter
	Builder   RequestBuilder
	Verifier  Verifier
	Settler   Settler
	Logger    *logger.Logger
	Now       func() time.Time
}

// Router decides whether a request for a named service is served.
type Router struct {
	services  map[string]*models.AgentServiceConfig
	recipient string
	ledger    Ledger
	meter     Meter
	builder   RequestBuilder
	verifier  Verifier
	settler   Settler
	limits    *limiters
	issued    *issuedRequests
	logger    *logger.Logger
}

func NewRouter(cfg Config) (*Router, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &Router{
		services:  make(map[string]*models.AgentServiceConfig, len(cfg.Services)),
		recipient: cfg.Recipient,
		ledger:    cfg.Ledger,
		meter:     cfg.Meter,
		builder:   cfg.Builder,
		verifier:  cfg.Verifier,
		settler:   cfg.Settler,
		limits:    newLimiters(),
		issued:    newIssuedRequests(cfg.Now),
		logger:    cfg.Logger.Named("access"),
	}
	for _, s := range cfg.Services {
		if _, dup := r.services[s.Name]; dup {
			return nil, models.NewValidationError("service", fmt.Sprintf("duplicate name %q", s.Name))
		}
		if s.Pricing == nil {
			return nil, models.NewValidationError("service", fmt.Sprintf("%s: missing pricing", s.Name))
		}
		r.services[s.Name] = s
	}
	return r, nil
}

// Service returns the configuration of a named service.
func (r *Router) Service(name string) (*models.AgentServiceConfig, error) {
	s, ok := r.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrServiceNotFound, name)
	}
	return s, nil
}

// Services lists the configured services ordered by name.
func (r *Router) Services() []*models.AgentServiceConfig {
	out := make([]*models.AgentServiceConfig, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Challenge issues a payment request for a per-request service.
func (r *Router) Challenge(name, resource string) (*models.PaymentRequest, *models.X402Response, error) {
	s, err := r.Service(name)
	if err != nil {
		return nil, nil, err
	}
	p, ok := s.Pricing.(models.PerRequestPricing)
	if !ok {
		return nil, nil, models.NewValidationError("service", fmt.Sprintf("%s is not priced per request", name))
	}
	return r.challenge(s, p, resource)
}

// Decide routes one request. Denials are decisions, not errors; an error means
// the service or its plan is misconfigured or a store failed.
func (r *Router) Decide(ctx context.Context, name string, req models.AccessRequest) (*models.AccessDecision, error) {
	s, err := r.Service(name)
	if err != nil {
		return nil, err
	}

	if auth := s.Authentication; auth != nil && len(auth.APIKeys) > 0 && !validKey(auth.APIKeys, req.APIKey) {
		return &models.AccessDecision{Reason: ReasonInvalidAPIKey}, nil
	}
	if s.RateLimits != nil && !r.limits.allow(s.Name, req.Subscriber, s.RateLimits) {
		r.logger.Debug("Rate limited", "service", s.Name, "subscriber", req.Subscriber)
		return &models.AccessDecision{Reason: ReasonRateLimited, RateLimited: true}, nil
	}

	switch p := s.Pricing.(type) {
	case models.FreePricing:
		return &models.AccessDecision{Allowed: true}, nil
	case models.SubscriptionPricing:
		return r.decideSubscription(ctx, s, p, req)
	case models.PerRequestPricing:
		return r.decidePerRequest(ctx, s, p, req)
	default:
		return nil, fmt.Errorf("service %s: unsupported pricing %T", s.Name, s.Pricing)
	}
}

func (r *Router) decideSubscription(ctx context.Context, s *models.AgentServiceConfig, p models.SubscriptionPricing, req models.AccessRequest) (*models.AccessDecision, error) {
	plan, err := r.ledger.Plan(p.PlanID)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", s.Name, err)
	}
	required := &models.AccessDecision{
		Reason:               ReasonSubscriptionRequired,
		SubscriptionRequired: []*models.SubscriptionPlan{plan},
	}
	if req.Subscriber == "" {
		return required, nil
	}

	sub, err := r.ledger.FindLive(ctx, req.Subscriber, plan.ID)
	if errors.Is(err, models.ErrSubscriptionNotFound) {
		return required, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := r.ledger.ValidateAccess(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if !res.Allowed {
		return &models.AccessDecision{Reason: res.Reason, Subscription: sub}, nil
	}

	updated, err := r.meter.Record(ctx, sub.ID, subscription.UsageDelta{Requests: 1, Tokens: req.Tokens, Bandwidth: req.Bandwidth})
	if errors.Is(err, models.ErrSubscriptionInactive) {
		return &models.AccessDecision{Reason: fmt.Sprintf("Subscription is %s", sub.Status), Subscription: sub}, nil
	}
	if err != nil {
		return nil, err
	}
	remaining, err := r.ledger.Remaining(updated)
	if err != nil {
		return nil, err
	}
	return &models.AccessDecision{Allowed: true, Subscription: updated, Remaining: remaining}, nil
}

func (r *Router) decidePerRequest(ctx context.Context, s *models.AgentServiceConfig, p models.PerRequestPricing, req models.AccessRequest) (*models.AccessDecision, error) {
	request, challenge, err := r.challenge(s, p, req.Resource)
	if err != nil {
		return nil, err
	}
	deny := func(reason string) *models.AccessDecision {
		return &models.AccessDecision{Reason: reason, PaymentRequired: request, Challenge: challenge}
	}
	if req.Payment == nil {
		return deny(ReasonPaymentRequired), nil
	}
	if id, _ := req.Payment.Metadata[RequestIDKey].(string); id != "" {
		issued, ok := r.issued.lookup(id)
		if !ok || issued.Metadata["service"] != s.Name {
			return deny(ReasonUnknownRequest), nil
		}
		request = issued
	}

	v := r.verifier.Verify(ctx, req.Payment, request)
	if v == nil {
		return deny(ReasonVerificationFailed), nil
	}
	out := r.settler.Settle(ctx, s.Name, req.Payment, v)
	if !out.Settled {
		return deny(ReasonSettlementFailed), nil
	}
	if out.Replayed {
		r.logger.Warn("Payment replayed", "service", s.Name, "paymentId", v.PaymentID)
		return deny(ReasonPaymentUsed), nil
	}
	return &models.AccessDecision{Allowed: true, Verification: v, Settlement: out.Settlement}, nil
}

func (r *Router) challenge(s *models.AgentServiceConfig, p models.PerRequestPricing, resource string) (*models.PaymentRequest, *models.X402Response, error) {
	if resource == "" {
		resource = s.Endpoint
	}
	request, err := r.builder.Build(p.Amount, r.recipient, payment.RequestOptions{
		Currency:    p.Currency,
		Description: "Access to " + s.Name,
		Metadata:    map[string]interface{}{"service": s.Name, "resource": resource},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("service %s: %w", s.Name, err)
	}
	r.issued.remember(request)
	return request, r.builder.X402Response([]*models.PaymentRequest{request}, resource), nil
}

func validKey(keys []string, key string) bool {
	if key == "" {
		return false
	}
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}
