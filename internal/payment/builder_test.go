package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/x402/internal/models"
)

func newTestBuilder() *Builder {
	return NewBuilder(BuilderConfig{
		Network:        "xcb",
		NativeCurrency: "XCB",
		Tokens:         testTokens,
		Now:            func() time.Time { return testNow },
	})
}

func TestBuild_Defaults(t *testing.T) {
	b := newTestBuilder()

	req, err := b.Build(decimal.RequireFromString("0.01"), recipient, RequestOptions{Description: "weather"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "XCB", req.Currency)
	assert.Equal(t, testNow.Add(time.Hour), req.ExpiresAt)
	assert.Equal(t, "weather", req.Description)

	other, err := b.Build(decimal.NewFromInt(1), recipient, RequestOptions{Currency: "ctn", TTL: time.Minute})
	require.NoError(t, err)
	assert.NotEqual(t, req.ID, other.ID)
	assert.Equal(t, "CTN", other.Currency)
	assert.Equal(t, testNow.Add(time.Minute), other.ExpiresAt)
}

func TestBuild_Validation(t *testing.T) {
	b := newTestBuilder()
	var invalid *models.ValidationError

	_, err := b.Build(decimal.Zero, recipient, RequestOptions{})
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, "amount", invalid.Field)

	_, err = b.Build(decimal.NewFromInt(-1), recipient, RequestOptions{})
	assert.True(t, errors.As(err, &invalid))

	_, err = b.Build(decimal.NewFromInt(1), "0x1234", RequestOptions{})
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, "recipient", invalid.Field)
}

func TestX402Response(t *testing.T) {
	b := newTestBuilder()

	native, err := b.Build(decimal.RequireFromString("0.5"), recipient, RequestOptions{})
	require.NoError(t, err)
	token, err := b.Build(decimal.NewFromInt(2), recipient, RequestOptions{Currency: "CTN"})
	require.NoError(t, err)

	resp := b.X402Response([]*models.PaymentRequest{native, token}, "https://api.example.com/weather")
	assert.Equal(t, 1, resp.X402Version)
	require.Len(t, resp.Accepts, 2)

	first := resp.Accepts[0]
	assert.Equal(t, models.MethodNative, first.Method)
	assert.Equal(t, "xcb", first.Network)
	assert.Equal(t, recipient, first.To)
	assert.Equal(t, "0.5", first.Amount)
	assert.Equal(t, "https://api.example.com/weather", first.Metadata["resource"])
	assert.Equal(t, native.ID, first.Metadata["paymentRequestId"])
	assert.Equal(t, "2026-05-01T11:00:00Z", first.Metadata["expiresAt"])
	assert.NotContains(t, first.Metadata, "asset")

	second := resp.Accepts[1]
	assert.Equal(t, models.MethodToken, second.Method)
	assert.Equal(t, "CTN", second.Currency)
	assert.Equal(t, ctnAddr, second.Metadata["asset"])
	assert.Equal(t, 18, second.Metadata["decimals"])
}

func TestX402Response_Empty(t *testing.T) {
	resp := newTestBuilder().X402Response(nil, "/")
	assert.NotNil(t, resp.Accepts)
	assert.Empty(t, resp.Accepts)
}
