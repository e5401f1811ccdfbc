package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/core-coin/x402/internal/models"
)

// Catalog is the file describing the tokens, plans and services a host offers.
type Catalog struct {
	Tokens   []TokenConfig   `yaml:"tokens" validate:"dive"`
	Plans    []PlanConfig    `yaml:"plans" validate:"dive"`
	Services []ServiceConfig `yaml:"services" validate:"dive"`
}

type TokenConfig struct {
	Symbol   string `yaml:"symbol" validate:"required"`
	Name     string `yaml:"name"`
	Address  string `yaml:"address" validate:"required"`
	Decimals int    `yaml:"decimals" validate:"gte=0,lte=36"`
}

type PlanConfig struct {
	ID          string        `yaml:"id" validate:"required"`
	Name        string        `yaml:"name" validate:"required"`
	Description string        `yaml:"description"`
	Price       string        `yaml:"price" validate:"required,numeric"`
	Currency    string        `yaml:"currency" validate:"required"`
	Interval    string        `yaml:"interval" validate:"required,oneof=daily weekly monthly yearly"`
	Features    []string      `yaml:"features"`
	MaxUsage    *models.Quota `yaml:"maxUsage"`
	TrialPeriod int           `yaml:"trialPeriod" validate:"gte=0"`
}

type ServiceConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Endpoint string        `yaml:"endpoint"`
	Pricing  PricingConfig `yaml:"pricing"`

	RateLimits *struct {
		RequestsPerMinute int `yaml:"requestsPerMinute" validate:"gt=0"`
		Burst             int `yaml:"burst" validate:"gte=0"`
	} `yaml:"rateLimits"`

	Authentication *struct {
		Type    string   `yaml:"type" validate:"omitempty,oneof=api_key"`
		APIKeys []string `yaml:"apiKeys" validate:"dive,required"`
	} `yaml:"authentication"`
}

type PricingConfig struct {
	Type     string `yaml:"type" validate:"required,oneof=free per_request subscription"`
	Amount   string `yaml:"amount" validate:"required_if=Type per_request,omitempty,numeric"`
	Currency string `yaml:"currency"`
	PlanID   string `yaml:"planId" validate:"required_if=Type subscription"`
}

// LoadCatalog reads and validates a catalogue file.
func LoadCatalog(path string) (*Catalog, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalogue YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog: %w", err)
	}
	if err := validator.New().Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

// TokenList returns the configured CBC20 tokens.
func (c *Catalog) TokenList() []*models.Token {
	out := make([]*models.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		out = append(out, &models.Token{
			Symbol:   strings.ToUpper(t.Symbol),
			Name:     t.Name,
			Address:  t.Address,
			Decimals: t.Decimals,
		})
	}
	return out
}

// PlanList converts the plans; prices are parsed as exact decimals.
func (c *Catalog) PlanList() ([]*models.SubscriptionPlan, error) {
	out := make([]*models.SubscriptionPlan, 0, len(c.Plans))
	for _, p := range c.Plans {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("plan %s: price: %w", p.ID, err)
		}
		out = append(out, &models.SubscriptionPlan{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       price,
			Currency:    strings.ToUpper(p.Currency),
			Interval:    models.BillingInterval(p.Interval),
			Features:    p.Features,
			MaxUsage:    p.MaxUsage,
			TrialPeriod: p.TrialPeriod,
		})
	}
	return out, nil
}

// ServiceList converts the services into their pricing policies.
func (c *Catalog) ServiceList() ([]*models.AgentServiceConfig, error) {
	out := make([]*models.AgentServiceConfig, 0, len(c.Services))
	for _, s := range c.Services {
		svc := &models.AgentServiceConfig{Name: s.Name, Endpoint: s.Endpoint}
		if svc.Endpoint == "" {
			svc.Endpoint = "/" + s.Name
		}

		switch models.PricingType(s.Pricing.Type) {
		case models.PricingFree:
			svc.Pricing = models.FreePricing{}
		case models.PricingPerRequest:
			amount, err := decimal.NewFromString(s.Pricing.Amount)
			if err != nil {
				return nil, fmt.Errorf("service %s: amount: %w", s.Name, err)
			}
			svc.Pricing = models.PerRequestPricing{Amount: amount, Currency: strings.ToUpper(s.Pricing.Currency)}
		case models.PricingSubscription:
			svc.Pricing = models.SubscriptionPricing{PlanID: s.Pricing.PlanID}
		default:
			return nil, fmt.Errorf("service %s: unknown pricing %q", s.Name, s.Pricing.Type)
		}

		if rl := s.RateLimits; rl != nil {
			svc.RateLimits = &models.RateLimits{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
		}
		if auth := s.Authentication; auth != nil {
			typ := auth.Type
			if typ == "" {
				typ = "api_key"
			}
			svc.Authentication = &models.Authentication{Type: typ, APIKeys: auth.APIKeys}
		}
		out = append(out, svc)
	}
	return out, nil
}
