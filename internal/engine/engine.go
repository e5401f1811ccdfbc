package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/core-coin/x402/internal/access"
	"github.com/core-coin/x402/internal/billing"
	"github.com/core-coin/x402/internal/events"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/payment"
	"github.com/core-coin/x402/internal/subscription"
	"github.com/core-coin/x402/pkg/logger"
)

// Options wires an Engine from already constructed parts.
type Options struct {
	Store models.Store
	// Strategy verifies payment headers.
	Strategy payment.VerificationStrategy
	// Settler finalizes payments remotely; nil when payments are final once mined.
	Settler payment.Settler

	Plans    []*models.SubscriptionPlan
	Services []*models.AgentServiceConfig
	Tokens   models.TokenRegistry

	// Recipient receives every payment.
	Recipient      string
	Network        string
	NativeCurrency string
	RequestTTL     time.Duration

	GracePeriod       time.Duration
	SchedulerInterval time.Duration

	Sinks  []events.Sink
	Now    func() time.Time
	Logger *logger.Logger
}

// Engine is the billing engine: it owns every component and serves the
// operations of the HTTP API and the CLI.
type Engine struct {
	logger *logger.Logger

	store       models.Store
	builder     *payment.Builder
	verifier    *payment.Verifier
	coordinator *payment.Coordinator
	ledger      *subscription.Ledger
	meter       *subscription.Meter
	scheduler   *billing.Scheduler
	router      *access.Router
	dispatcher  *events.Dispatcher
	stream      *events.Stream
	recipient   string

	onStart []func(ctx context.Context)
	onStop  []func() error
}

var _ models.BillingEngine = (*Engine)(nil)

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	log := opts.Logger

	catalog, err := subscription.NewCatalog(opts.Plans)
	if err != nil {
		return nil, fmt.Errorf("plans: %w", err)
	}

	stream := events.NewStream()
	dispatcher := events.NewDispatcher(log, events.DefaultSendTimeout, append([]events.Sink{stream}, opts.Sinks...)...)

	cfg := subscription.Config{
		Store:       opts.Store,
		Queue:       opts.Store,
		Catalog:     catalog,
		Events:      dispatcher,
		Logger:      log,
		Now:         opts.Now,
		GracePeriod: opts.GracePeriod,
	}
	ledger := subscription.NewLedger(cfg)
	meter := subscription.NewMeter(cfg)

	scheduler := billing.NewScheduler(billing.SchedulerConfig{
		Queue:    opts.Store,
		Handler:  ledger,
		Interval: opts.SchedulerInterval,
		Now:      opts.Now,
		Logger:   log,
	})

	builder := payment.NewBuilder(payment.BuilderConfig{
		Network:        opts.Network,
		NativeCurrency: opts.NativeCurrency,
		TTL:            opts.RequestTTL,
		Tokens:         opts.Tokens,
		Now:            opts.Now,
	})
	verifier := payment.NewVerifier(opts.Strategy, dispatcher, log, opts.Now)
	coordinator := payment.NewCoordinator(opts.Store, opts.Settler, dispatcher, log, opts.Now)

	router, err := access.NewRouter(access.Config{
		Services:  opts.Services,
		Recipient: opts.Recipient,
		Ledger:    ledger,
		Meter:     meter,
		Builder:   builder,
		Verifier:  verifier,
		Settler:   coordinator,
		Logger:    log,
		Now:       opts.Now,
	})
	if err != nil {
		return nil, err
	}
	for _, s := range opts.Services {
		if p, ok := s.Pricing.(models.SubscriptionPricing); ok {
			if _, err := catalog.Plan(p.PlanID); err != nil {
				return nil, fmt.Errorf("service %s: %w", s.Name, err)
			}
		}
	}

	return &Engine{
		logger:      log.Named("engine"),
		store:       opts.Store,
		builder:     builder,
		verifier:    verifier,
		coordinator: coordinator,
		ledger:      ledger,
		meter:       meter,
		scheduler:   scheduler,
		router:      router,
		dispatcher:  dispatcher,
		stream:      stream,
		recipient:   opts.Recipient,
	}, nil
}

// Start starts the scheduler and any background refreshers.
func (e *Engine) Start(ctx context.Context) error {
	for _, fn := range e.onStart {
		fn(ctx)
	}
	e.scheduler.Start(ctx)
	// catch up on tasks that came due while the engine was down
	e.scheduler.Trigger()
	e.logger.Info("Billing engine started")
	return nil
}

// Stop stops the workers, flushes pending events and releases resources.
func (e *Engine) Stop(ctx context.Context) error {
	e.scheduler.Stop()
	var errs []error
	if err := e.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("events: %w", err))
	}
	for i := len(e.onStop) - 1; i >= 0; i-- {
		if err := e.onStop[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	e.logger.Info("Billing engine stopped")
	return errors.Join(errs...)
}

// SubscribeEvents streams published events until cancel is called.
func (e *Engine) SubscribeEvents(buffer int) (<-chan *models.Event, func()) {
	return e.stream.Subscribe(buffer)
}

// RunDue fires the transitions that are due now and reports how many ran.
func (e *Engine) RunDue(ctx context.Context) int {
	return e.scheduler.RunDue(ctx)
}

func (e *Engine) Services() []*models.AgentServiceConfig {
	return e.router.Services()
}

func (e *Engine) Challenge(service, resource string) (*models.PaymentRequest, *models.X402Response, error) {
	return e.router.Challenge(service, resource)
}

func (e *Engine) Decide(ctx context.Context, service string, req models.AccessRequest) (*models.AccessDecision, error) {
	return e.router.Decide(ctx, service, req)
}

func (e *Engine) Revenue(ctx context.Context, reference string) (*models.Revenue, error) {
	return e.coordinator.Revenue(ctx, reference)
}

func (e *Engine) Plans() []*models.SubscriptionPlan {
	return e.ledger.Plans()
}

func (e *Engine) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return e.ledger.GetSubscription(ctx, id)
}

func (e *Engine) ValidateAccess(ctx context.Context, id string) (*models.AccessResult, error) {
	return e.ledger.ValidateAccess(ctx, id)
}

func (e *Engine) CancelSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return e.ledger.CancelSubscription(ctx, id)
}

func (e *Engine) RecordUsage(ctx context.Context, id string, requests, tokens int64, bandwidth string) (*models.Subscription, error) {
	return e.meter.Record(ctx, id, subscription.UsageDelta{Requests: requests, Tokens: tokens, Bandwidth: bandwidth})
}

func (e *Engine) UsageHistory(ctx context.Context, id string) ([]*models.UsageMetrics, error) {
	return e.meter.History(ctx, id)
}
