package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/core-coin/x402/internal/blockchain"
	"github.com/core-coin/x402/internal/config"
	"github.com/core-coin/x402/internal/events"
	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/payment"
	"github.com/core-coin/x402/internal/repository"
	"github.com/core-coin/x402/internal/wellknown"
	"github.com/core-coin/x402/pkg/logger"
)

// Build connects to the configured backends and creates the engine. ctx bounds
// background clients such as the Telegram poller.
func Build(ctx context.Context, cfg *config.Config, catalog *config.Catalog, log *logger.Logger) (*Engine, error) {
	plans, err := catalog.PlanList()
	if err != nil {
		return nil, err
	}
	services, err := catalog.ServiceList()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg, log)
	if err != nil {
		return nil, err
	}
	var stops []func() error
	fail := func(err error) (*Engine, error) {
		for _, stop := range stops {
			_ = stop()
		}
		_ = store.Close()
		return nil, err
	}

	tokens := wellknown.NewCatalogue(cfg.WellKnownURL, cfg.GetNetworkName(), catalog.TokenList(), log)
	stops = append(stops, func() error { tokens.Stop(); return nil })

	opts := Options{
		Store:             store,
		Plans:             plans,
		Services:          services,
		Tokens:            tokens,
		Recipient:         cfg.PaymentRecipient,
		Network:           cfg.GetNetworkName(),
		NativeCurrency:    "XCB",
		RequestTTL:        cfg.PaymentRequestTTL,
		GracePeriod:       cfg.GracePeriod,
		SchedulerInterval: cfg.SchedulerInterval,
		Logger:            log,
	}

	if cfg.FacilitatorURL != "" {
		f := payment.NewFacilitator(payment.FacilitatorConfig{
			URL:     cfg.FacilitatorURL,
			APIKey:  cfg.FacilitatorAPIKey,
			Timeout: cfg.FacilitatorTimeout,
		})
		opts.Strategy = payment.NewCached(f, store)
		opts.Settler = f
		log.Info("Verifying payments through facilitator", "url", cfg.FacilitatorURL)
	} else {
		chain := blockchain.NewGocore(cfg.BlockchainServiceURL, cfg.NetworkID, log)
		if err := chain.Run(); err != nil {
			return fail(err)
		}
		stops = append(stops, chain.Close)
		opts.Strategy = payment.NewCached(payment.NewOnChain(payment.OnChainConfig{
			Chain:          chain,
			Tokens:         tokens,
			NativeCurrency: opts.NativeCurrency,
		}), store)
		log.Info("Verifying payments on chain", "url", cfg.BlockchainServiceURL)
	}

	sinks, sinkStops, err := buildSinks(ctx, cfg, log)
	stops = append(stops, sinkStops...)
	if err != nil {
		return fail(err)
	}
	opts.Sinks = sinks

	e, err := New(opts)
	if err != nil {
		return fail(err)
	}
	e.onStart = append(e.onStart, func(context.Context) {
		tokens.StartPeriodicUpdate(cfg.TokenUpdateInterval)
	})
	e.onStop = stops
	return e, nil
}

func openStore(cfg *config.Config, log *logger.Logger) (models.Store, error) {
	switch cfg.Storage {
	case config.StoragePostgres:
		db, err := repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
	case config.StorageMemory:
		log.Warn("Using in-memory storage; subscriptions are lost on restart")
		return repository.NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func buildSinks(ctx context.Context, cfg *config.Config, log *logger.Logger) ([]events.Sink, []func() error, error) {
	var (
		sinks []events.Sink
		stops []func() error
	)
	for _, url := range cfg.WebhookURLs {
		sinks = append(sinks, events.NewWebhookSink(url, cfg.WebhookSecret, cfg.WebhookTimeout))
	}
	if cfg.RedisAddr != "" {
		client, err := events.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, stops, err
		}
		stops = append(stops, client.Close)
		sinks = append(sinks, events.NewRedisSink(client, cfg.RedisChannel))
	}
	if cfg.TelegramBotToken != "" {
		botCtx, cancel := context.WithCancel(ctx)
		stops = append(stops, func() error { cancel(); return nil })
		tg, err := events.NewTelegramSink(botCtx, log, cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return nil, stops, err
		}
		sinks = append(sinks, tg)
	}
	if cfg.SMTPHost != "" && len(cfg.EventEmailTo) > 0 {
		sinks = append(sinks, events.NewEmailSink(events.EmailConfig{
			Host:            cfg.SMTPHost,
			Port:            cfg.SMTPPort,
			AlternativePort: cfg.SMTPAlternativePort,
			User:            cfg.SMTPUser,
			Password:        cfg.SMTPPassword,
			Sender:          cfg.SMTPSender,
			To:              cfg.EventEmailTo,
		}))
	}
	for _, s := range sinks {
		log.Info("Event sink enabled", "sink", s.Name())
	}
	return sinks, stops, nil
}

// DefaultShutdownTimeout bounds Stop when called from signal handlers.
const DefaultShutdownTimeout = 10 * time.Second
