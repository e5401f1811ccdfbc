package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/core-coin/x402/internal/access"
	"github.com/core-coin/x402/internal/config"
	"github.com/core-coin/x402/internal/engine"
	"github.com/core-coin/x402/internal/http_api"
	"github.com/core-coin/x402/internal/payment"
	"github.com/core-coin/x402/internal/subscription"
	"github.com/core-coin/x402/internal/wellknown"
	"github.com/core-coin/x402/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "x402d",
		Usage: "x402 payment and subscription billing engine",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.StringFlag{Name: "storage", Usage: "Storage backend (memory or postgres)"},
			&cli.StringFlag{Name: "blockchain-service-url", Aliases: []string{"b"}, Usage: "Blockchain service URL"},
			&cli.StringFlag{Name: "facilitator-url", Aliases: []string{"f"}, Usage: "x402 facilitator URL; verification is on chain when empty"},
			&cli.StringFlag{Name: "recipient", Aliases: []string{"r"}, Usage: "Address receiving payments"},
			&cli.StringFlag{Name: "catalog", Aliases: []string{"c"}, Usage: "Path to the plans and services catalogue"},
			&cli.IntFlag{Name: "port", Usage: "API port"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the billing API (default)",
				Action: serve,
			},
			{
				Name:  "plans",
				Usage: "Print the subscription plans of the catalogue",
				Action: func(c *cli.Context) error {
					_, catalog, err := load(c)
					if err != nil {
						return err
					}
					plans, err := catalog.PlanList()
					if err != nil {
						return err
					}
					plansCatalog, err := subscription.NewCatalog(plans)
					if err != nil {
						return err
					}
					return printJSON(plansCatalog.Plans())
				},
			},
			{
				Name:      "challenge",
				Usage:     "Print the x402 challenge of a per-request service",
				ArgsUsage: "<service>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "resource", Usage: "Resource URL announced in the challenge"},
				},
				Action: challenge,
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

// load reads the configuration and the catalogue, applying flag overrides.
func load(c *cli.Context) (*config.Config, *config.Catalog, error) {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("storage") {
		cfg.Storage = c.String("storage")
	}
	if c.IsSet("blockchain-service-url") {
		cfg.BlockchainServiceURL = c.String("blockchain-service-url")
	}
	if c.IsSet("facilitator-url") {
		cfg.FacilitatorURL = c.String("facilitator-url")
	}
	if c.IsSet("recipient") {
		cfg.PaymentRecipient = c.String("recipient")
	}
	if c.IsSet("catalog") {
		cfg.CatalogPath = c.String("catalog")
	}
	if c.IsSet("port") {
		cfg.APIPort = c.Int("port")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, catalog, nil
}

func serve(c *cli.Context) error {
	cfg, catalog, err := load(c)
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	billing, err := engine.Build(ctx, cfg, catalog, log)
	if err != nil {
		return err
	}
	if err := billing.Start(ctx); err != nil {
		return err
	}

	apiServer := http_api.NewHTTPServer(billing, cfg.APIPort, log)
	serverErr := make(chan error, 1)
	go func() { serverErr <- apiServer.Start() }()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-serverErr:
		log.Error("HTTP server stopped", "error", err)
	}

	if shutdownErr := apiServer.Shutdown(); shutdownErr != nil {
		log.Error("Failed to shut down HTTP server", "error", shutdownErr)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), engine.DefaultShutdownTimeout)
	defer cancel()
	if stopErr := billing.Stop(stopCtx); stopErr != nil {
		log.Error("Failed to stop billing engine", "error", stopErr)
	}
	return err
}

// challenge prints a challenge without connecting to storage or the chain.
func challenge(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.ShowSubcommandHelp(c)
	}
	cfg, catalog, err := load(c)
	if err != nil {
		return err
	}
	services, err := catalog.ServiceList()
	if err != nil {
		return err
	}

	router, err := access.NewRouter(access.Config{
		Services:  services,
		Recipient: cfg.PaymentRecipient,
		Builder: payment.NewBuilder(payment.BuilderConfig{
			Network: cfg.GetNetworkName(),
			TTL:     cfg.PaymentRequestTTL,
			Tokens:  wellknown.NewCatalogue("", cfg.GetNetworkName(), catalog.TokenList(), logger.NewNop()),
		}),
	})
	if err != nil {
		return err
	}
	_, resp, err := router.Challenge(c.Args().First(), c.String("resource"))
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
