package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

// MockStrategy is a mock implementation of VerificationStrategy
type MockStrategy struct {
	mock.Mock
}

func (m *MockStrategy) Verify(ctx context.Context, header *models.PaymentHeader, request *models.PaymentRequest) (*models.PaymentVerification, error) {
	args := m.Called(ctx, header, request)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentVerification), args.Error(1)
}

func verification(amount string, to string) *models.PaymentVerification {
	return &models.PaymentVerification{
		PaymentID:       txHash + "_1",
		TransactionHash: txHash,
		Amount:          decimal.RequireFromString(amount),
		Currency:        "XCB",
		Payer:           payer,
		Recipient:       to,
		Verified:        true,
	}
}

func TestVerifier(t *testing.T) {
	ctx := context.Background()
	header := &models.PaymentHeader{Method: models.MethodNative, Network: "xcb", Transaction: txHash}

	t.Run("accepts a covering payment", func(t *testing.T) {
		strategy := new(MockStrategy)
		events := &recorder{}
		v := NewVerifier(strategy, events, logger.NewNop(), func() time.Time { return testNow })
		req := request("1", "XCB")

		strategy.On("Verify", ctx, header, req).Return(verification("1.5", "0x"+recipient), nil)

		got := v.Verify(ctx, header, req)
		require.NotNil(t, got)
		assert.Equal(t, txHash, got.TransactionHash)
		assert.Equal(t, []models.EventType{models.EventPaymentReceived, models.EventPaymentVerified}, events.types())
		assert.Equal(t, "weather", events.events[1].Service)
		strategy.AssertExpectations(t)
	})

	t.Run("rejects underpayment from the strategy", func(t *testing.T) {
		strategy := new(MockStrategy)
		events := &recorder{}
		v := NewVerifier(strategy, events, logger.NewNop(), func() time.Time { return testNow })
		req := request("1", "XCB")

		strategy.On("Verify", ctx, header, req).Return(verification("0.99", recipient), nil)

		assert.Nil(t, v.Verify(ctx, header, req))
		assert.Equal(t, []models.EventType{models.EventPaymentReceived, models.EventPaymentFailed}, events.types())
	})

	t.Run("rejects a different recipient", func(t *testing.T) {
		strategy := new(MockStrategy)
		v := NewVerifier(strategy, nil, logger.NewNop(), func() time.Time { return testNow })
		req := request("1", "XCB")

		strategy.On("Verify", ctx, header, req).Return(verification("1", payer), nil)

		assert.Nil(t, v.Verify(ctx, header, req))
	})

	t.Run("rejects a different currency", func(t *testing.T) {
		strategy := new(MockStrategy)
		v := NewVerifier(strategy, nil, logger.NewNop(), func() time.Time { return testNow })
		req := request("1", "CTN")

		strategy.On("Verify", ctx, header, req).Return(verification("1", recipient), nil)

		assert.Nil(t, v.Verify(ctx, header, req))
	})

	t.Run("strategy errors become nil", func(t *testing.T) {
		strategy := new(MockStrategy)
		events := &recorder{}
		v := NewVerifier(strategy, events, logger.NewNop(), func() time.Time { return testNow })
		req := request("1", "XCB")

		strategy.On("Verify", ctx, header, req).Return(nil, errors.New("timeout"))

		assert.Nil(t, v.Verify(ctx, header, req))
		assert.Equal(t, "timeout", events.events[1].Data["error"])
	})

	t.Run("expired request never reaches the strategy", func(t *testing.T) {
		strategy := new(MockStrategy)
		v := NewVerifier(strategy, nil, logger.NewNop(), func() time.Time { return testNow.Add(2 * time.Hour) })

		assert.Nil(t, v.Verify(ctx, header, request("1", "XCB")))
		strategy.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("late strategy answer is rejected", func(t *testing.T) {
		strategy := new(MockStrategy)
		now := testNow
		v := NewVerifier(strategy, nil, logger.NewNop(), func() time.Time { return now })
		req := request("1", "XCB")

		strategy.On("Verify", ctx, header, req).
			Run(func(mock.Arguments) { now = req.ExpiresAt.Add(time.Second) }).
			Return(verification("1", recipient), nil)

		assert.Nil(t, v.Verify(ctx, header, req))
	})

	t.Run("missing header", func(t *testing.T) {
		events := &recorder{}
		v := NewVerifier(new(MockStrategy), events, logger.NewNop(), nil)

		assert.Nil(t, v.Verify(ctx, nil, request("1", "XCB")))
		assert.Equal(t, []models.EventType{models.EventPaymentFailed}, events.types())
	})
}
