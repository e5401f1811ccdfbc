package wellknown

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
	"github.com/core-coin/x402/pkg/validation"
)

// TokensResponse represents the response from .well-known/tokens.json
type TokensResponse struct {
	Tokens     []string   `json:"tokens"`
	Pagination Pagination `json:"pagination"`
}

// Pagination represents the pagination info in the tokens response
type Pagination struct {
	Limit   int    `json:"limit"`
	HasNext bool   `json:"hasNext"`
	Cursor  string `json:"cursor"`
}

// TokenMetadata represents detailed information about a single token
type TokenMetadata struct {
	Blockchain string `json:"blockchain"`
	Network    string `json:"network"`
	Ticker     string `json:"ticker"`
	Name       string `json:"name"`
	Decimals   int    `json:"decimals"`
	Symbol     string `json:"symbol"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	CreatedAt  string `json:"createdAt"`
}

// Catalogue resolves payment currencies to token metadata. Statically
// configured tokens always win over tokens fetched from the well-known service.
type Catalogue struct {
	logger  *logger.Logger
	baseURL string
	network string
	client  *http.Client

	mu      sync.RWMutex
	static  map[string]*models.Token
	fetched map[string]*models.Token

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCatalogue creates a catalogue seeded with the given tokens. baseURL may be
// empty, in which case only the static tokens are known.
func NewCatalogue(baseURL, network string, tokens []*models.Token, logger *logger.Logger) *Catalogue {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Catalogue{
		logger:  logger.Named("wellknown"),
		baseURL: strings.TrimRight(baseURL, "/"),
		network: network,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		static:  make(map[string]*models.Token),
		fetched: make(map[string]*models.Token),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, t := range tokens {
		index(c.static, t)
	}
	return c
}

func index(m map[string]*models.Token, t *models.Token) {
	m[strings.ToUpper(t.Symbol)] = t
	if t.Address != "" {
		m[validation.NormalizeAddress(t.Address)] = t
	}
}

// Lookup finds a token by symbol (case-insensitive) or contract address.
func (c *Catalogue) Lookup(currency string) (*models.Token, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range []string{strings.ToUpper(currency), validation.NormalizeAddress(currency)} {
		if t, ok := c.static[key]; ok {
			return t, true
		}
		if t, ok := c.fetched[key]; ok {
			return t, true
		}
	}
	return nil, false
}

// FetchAndUpdateTokens fetches all CBC20 tokens from the well-known service and replaces the fetched cache
func (c *Catalogue) FetchAndUpdateTokens() error {
	if c.baseURL == "" {
		return nil
	}
	c.logger.Info("Fetching tokens from well-known service", "url", c.baseURL)

	tokenAddresses, err := c.fetchAllTokenAddresses()
	if err != nil {
		return fmt.Errorf("failed to fetch token addresses: %w", err)
	}

	const maxConcurrent = 20
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var cacheMutex sync.Mutex
	newCache := make(map[string]*models.Token, 2*len(tokenAddresses))

	for _, address := range tokenAddresses {
		wg.Add(1)
		sem <- struct{}{}

		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			metadata, err := c.fetchTokenMetadata(addr)
			if err != nil {
				c.logger.Error("Failed to fetch token metadata", "address", addr, "error", err)
				return
			}

			// Only fungible tokens can pay
			if metadata.Type != "CBC20" {
				c.logger.Debug("Skipping non-CBC20 token", "address", addr, "type", metadata.Type)
				return
			}

			token := &models.Token{
				Symbol:    metadata.Symbol,
				Address:   addr,
				Decimals:  metadata.Decimals,
				Name:      metadata.Name,
				UpdatedAt: time.Now().Unix(),
			}

			cacheMutex.Lock()
			index(newCache, token)
			cacheMutex.Unlock()
		}(address)
	}

	wg.Wait()

	c.mu.Lock()
	c.fetched = newCache
	c.mu.Unlock()

	c.logger.Info("Token catalogue updated", "tokens", len(tokenAddresses))
	return nil
}

// fetchAllTokenAddresses fetches all token addresses using pagination
func (c *Catalogue) fetchAllTokenAddresses() ([]string, error) {
	var allAddresses []string
	cursor := ""

	for {
		url := fmt.Sprintf("%s/.well-known/tokens/%s/tokens.json?limit=1000", c.baseURL, c.network)
		if cursor != "" {
			url = fmt.Sprintf("%s&cursor=%s", url, cursor)
		}

		var tokensResp TokensResponse
		if err := c.getJSON(url, &tokensResp); err != nil {
			return nil, fmt.Errorf("failed to fetch tokens list: %w", err)
		}

		allAddresses = append(allAddresses, tokensResp.Tokens...)
		if !tokensResp.Pagination.HasNext {
			break
		}
		cursor = tokensResp.Pagination.Cursor
	}

	return allAddresses, nil
}

// fetchTokenMetadata fetches detailed metadata for a specific token
func (c *Catalogue) fetchTokenMetadata(address string) (*TokenMetadata, error) {
	url := fmt.Sprintf("%s/.well-known/tokens/%s/%s.json", c.baseURL, c.network, address)

	var metadata TokenMetadata
	if err := c.getJSON(url, &metadata); err != nil {
		return nil, fmt.Errorf("failed to fetch token metadata: %w", err)
	}
	return &metadata, nil
}

func (c *Catalogue) getJSON(url string, out interface{}) error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StartPeriodicUpdate starts a goroutine that refreshes the catalogue every interval
func (c *Catalogue) StartPeriodicUpdate(interval time.Duration) {
	if c.baseURL == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		backoff := 5 * time.Second
		maxBackoff := 5 * time.Minute

		for {
			err := c.FetchAndUpdateTokens()
			if err == nil {
				break
			}
			c.logger.Error("Failed to fetch tokens on startup, retrying...", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			case <-c.ctx.Done():
				return
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.FetchAndUpdateTokens(); err != nil {
					c.logger.Error("Failed to fetch tokens during periodic update", "error", err)
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully stops the periodic update
func (c *Catalogue) Stop() {
	c.cancel()
	c.wg.Wait()
}
