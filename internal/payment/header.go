package payment

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/core-coin/x402/internal/models"
)

// DecodePaymentHeader parses an X-PAYMENT header value, which is JSON either
// base64-encoded or as is.
func DecodePaymentHeader(raw string) (*models.PaymentHeader, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, models.ErrPaymentRequired
	}

	data := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
			if err != nil {
				return nil, models.NewValidationError("payment header", "neither JSON nor base64")
			}
		}
		data = decoded
	}

	var header models.PaymentHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, models.NewValidationError("payment header", "malformed JSON")
	}
	switch header.Method {
	case models.MethodNative, models.MethodToken, "":
	default:
		return nil, models.NewValidationError("payment header", "unsupported method "+string(header.Method))
	}
	if header.Transaction == "" && header.Proof == "" {
		return nil, models.NewValidationError("payment header", "transaction or proof required")
	}
	return &header, nil
}

// EncodePaymentResponse renders the X-PAYMENT-RESPONSE header for a settlement.
func EncodePaymentResponse(s *models.Settlement) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
