package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/core-coin/x402/internal/blockchain"
	"github.com/core-coin/x402/internal/models"
)

// DefaultFacilitatorTimeout bounds each call to the facilitator.
const DefaultFacilitatorTimeout = 10 * time.Second

// FacilitatorConfig holds configuration for the remote facilitator
type FacilitatorConfig struct {
	// URL is the base URL; /verify and /settle are appended
	URL string

	// APIKey is sent as X-API-Key when set
	APIKey string

	// Timeout is the HTTP client timeout
	Timeout time.Duration

	Now func() time.Time
}

// Facilitator delegates verification and settlement to an x402 facilitator service.
type Facilitator struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
	// final holds paymentIds the facilitator answered with shouldSettle=false.
	final sync.Map
}

func NewFacilitator(cfg FacilitatorConfig) *Facilitator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFacilitatorTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Facilitator{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		now:     cfg.Now,
	}
}

type verifyRequest struct {
	Payment   *models.PaymentHeader `json:"payment"`
	Resource  string                `json:"resource,omitempty"`
	Amount    string                `json:"amount"`
	Currency  string                `json:"currency"`
	Recipient string                `json:"recipient"`
}

// verifyResponse is what the facilitator answers on /verify.
type verifyResponse struct {
	Valid        bool                        `json:"valid"`
	Payment      *models.PaymentVerification `json:"payment,omitempty"`
	Error        string                      `json:"error,omitempty"`
	ShouldSettle *bool                       `json:"shouldSettle,omitempty"`
}

type settleRequest struct {
	Payment      *models.PaymentHeader       `json:"payment"`
	Verification *models.PaymentVerification `json:"verification"`
	Recipient    string                      `json:"recipient"`
}

type settleResponse struct {
	Settled         bool       `json:"settled"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	Error           string     `json:"error,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
}

func (f *Facilitator) Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) (*models.PaymentVerification, error) {
	resource, _ := request.Metadata["resource"].(string)
	body := verifyRequest{
		Payment:   header,
		Resource:  resource,
		Amount:    request.Amount.String(),
		Currency:  request.Currency,
		Recipient: request.Recipient,
	}

	var resp verifyResponse
	if err := f.post(ctx, "/verify", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Valid {
		if resp.Error == "" {
			resp.Error = "rejected by facilitator"
		}
		return nil, fmt.Errorf("facilitator: %s", resp.Error)
	}
	if resp.Payment == nil {
		return nil, errors.New("facilitator: valid response without payment")
	}

	v := *resp.Payment
	txHash, err := f.transactionHash(header, v.TransactionHash)
	if err != nil {
		return nil, err
	}
	v.TransactionHash = txHash

	now := f.now()
	if v.PaymentID == "" {
		v.PaymentID = txHash + "_" + strconv.FormatInt(now.UnixNano(), 10)
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = now
	}
	if v.Currency == "" {
		v.Currency = request.Currency
	}
	v.Currency = strings.ToUpper(v.Currency)
	v.Verified = true

	if resp.ShouldSettle != nil && !*resp.ShouldSettle {
		f.final.Store(v.PaymentID, struct{}{})
	}
	return &v, nil
}

// transactionHash picks the reference a facilitator verification is stored
// under. A hash reported by the facilitator must match the header's.
func (f *Facilitator) transactionHash(header *models.PaymentHeader, reported string) (string, error) {
	var fromHeader, fromResponse string
	var err error
	if strings.TrimSpace(header.Transaction) != "" {
		if fromHeader, err = blockchain.NormalizeTxHash(header.Transaction); err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(reported) != "" {
		if fromResponse, err = blockchain.NormalizeTxHash(reported); err != nil {
			return "", fmt.Errorf("facilitator: %w", err)
		}
	}

	switch {
	case fromHeader != "" && fromResponse != "" && fromHeader != fromResponse:
		return "", fmt.Errorf("facilitator verified %s, header names %s", fromResponse, fromHeader)
	case fromHeader != "":
		return fromHeader, nil
	case fromResponse != "":
		return fromResponse, nil
	case header.Proof != "":
		return proofKey(header.Proof), nil
	default:
		return "", errors.New("facilitator: payment has no transaction reference")
	}
}

// Settle asks the facilitator to finalize a verified payment. Payments the
// facilitator reported as final on /verify are not sent again.
func (f *Facilitator) Settle(ctx context.Context, header *models.PaymentHeader, v *models.PaymentVerification) error {
	if _, final := f.final.Load(v.PaymentID); final {
		return nil
	}
	var resp settleResponse
	if err := f.post(ctx, "/settle", settleRequest{Payment: header, Verification: v, Recipient: v.Recipient}, &resp); err != nil {
		return err
	}
	if !resp.Settled {
		if resp.Error == "" {
			resp.Error = "not settled"
		}
		return fmt.Errorf("facilitator: %s", resp.Error)
	}
	return nil
}

func (f *Facilitator) post(ctx context.Context, path string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("X-API-Key", f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("facilitator %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("facilitator %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("facilitator %s: decode response: %w", path, err)
	}
	return nil
}
