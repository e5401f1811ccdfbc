package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/internal/repository"
	"github.com/core-coin/x402/pkg/logger"
)

func newFacilitatorServer(t *testing.T, verify, settle http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	if verify != nil {
		mux.HandleFunc("/verify", verify)
	}
	if settle != nil {
		mux.HandleFunc("/settle", settle)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFacilitator_Verify(t *testing.T) {
	var got verifyRequest
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"valid":true,"shouldSettle":true,"payment":{"transactionHash":"` + strings.ToUpper(txHash[2:]) + `","amount":"1.25","currency":"xcb","payer":"` + payer + `","recipient":"` + recipient + `","blockNumber":42,"verified":true}}`))
	}, nil)

	f := NewFacilitator(FacilitatorConfig{URL: srv.URL + "/", APIKey: "secret", Now: func() time.Time { return testNow }})
	header := &models.PaymentHeader{Method: models.MethodNative, Network: "xcb", Proof: "signed-proof"}

	v, err := f.Verify(context.Background(), header, request("1", "XCB"))
	require.NoError(t, err)
	assert.Equal(t, "1", got.Amount)
	assert.Equal(t, recipient, got.Recipient)
	assert.Equal(t, "https://api.example.com/weather", got.Resource)
	assert.Equal(t, "signed-proof", got.Payment.Proof)

	assert.True(t, v.Verified)
	assert.Equal(t, "XCB", v.Currency)
	assert.Equal(t, "1.25", v.Amount.String())
	assert.Equal(t, uint64(42), v.BlockNumber)
	assert.Equal(t, payer, v.Payer)
	assert.Equal(t, txHash, v.TransactionHash)
	assert.Equal(t, txHash+"_1777629600000000000", v.PaymentID)
	assert.Equal(t, testNow, v.Timestamp)
}

func TestFacilitator_VerifyKeepsFacilitatorPaymentID(t *testing.T) {
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"shouldSettle":true,"payment":{"paymentId":"p-1","transactionHash":"` + txHash + `","amount":"1","currency":"XCB","payer":"` + payer + `","recipient":"` + recipient + `","verified":true}}`))
	}, nil)

	v := NewVerifier(NewFacilitator(FacilitatorConfig{URL: srv.URL}), nil, logger.NewNop(), func() time.Time { return testNow })
	got := v.Verify(context.Background(), &models.PaymentHeader{Transaction: txHash}, request("1", "XCB"))
	require.NotNil(t, got)
	assert.Equal(t, "p-1", got.PaymentID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(1)))
}

func TestFacilitator_VerifyRejectsOtherTransaction(t *testing.T) {
	other := "0x" + strings.Repeat("ab", 32)
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"payment":{"transactionHash":"` + other + `","amount":"1","recipient":"` + recipient + `","verified":true}}`))
	}, nil)

	_, err := NewFacilitator(FacilitatorConfig{URL: srv.URL}).Verify(context.Background(), &models.PaymentHeader{Transaction: txHash}, request("1", "XCB"))
	assert.Error(t, err)
}

func TestFacilitator_RepeatedPaymentSettlesOnce(t *testing.T) {
	ctx := context.Background()
	calls := 0
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"valid":true,"shouldSettle":true,"payment":{"amount":"1","currency":"XCB","payer":"` + payer + `","recipient":"` + recipient + `","verified":true}}`))
	}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"settled":true,"transactionHash":"` + txHash + `","timestamp":"2026-05-01T10:00:00Z"}`))
	})

	db := repository.NewMemoryDB()
	now := testNow
	clock := func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	}
	f := NewFacilitator(FacilitatorConfig{URL: srv.URL, Now: clock})
	verifier := NewVerifier(NewCached(f, db), nil, logger.NewNop(), func() time.Time { return testNow })
	coordinator := NewCoordinator(db, f, nil, logger.NewNop(), clock)

	for _, header := range []*models.PaymentHeader{
		{Method: models.MethodNative, Transaction: txHash},
		{Method: models.MethodNative, Transaction: txHash},
		{Method: models.MethodNative, Transaction: strings.ToUpper(txHash[2:])},
	} {
		v := verifier.Verify(ctx, header, request("1", "XCB"))
		require.NotNil(t, v)
		coordinator.Settle(ctx, "weather", header, v)
	}
	assert.Equal(t, 1, calls)

	revenue, err := coordinator.Revenue(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, 1, revenue.Payments)
	assert.Equal(t, "1", revenue.Totals["XCB"].String())
}

func TestFacilitator_ProofOnlyPaymentSettlesOnce(t *testing.T) {
	ctx := context.Background()
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"payment":{"amount":"1","recipient":"` + recipient + `","verified":true}}`))
	}, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"settled":true}`))
	})

	db := repository.NewMemoryDB()
	f := NewFacilitator(FacilitatorConfig{URL: srv.URL})
	verifier := NewVerifier(NewCached(f, db), nil, logger.NewNop(), func() time.Time { return testNow })
	coordinator := NewCoordinator(db, f, nil, logger.NewNop(), nil)
	header := &models.PaymentHeader{Method: models.MethodToken, Proof: "signed-authorization"}

	first := coordinator.Settle(ctx, "weather", header, verifier.Verify(ctx, header, request("1", "XCB")))
	require.True(t, first.Settled)
	assert.Equal(t, proofKey("signed-authorization"), first.Settlement.TransactionHash)

	again := coordinator.Settle(ctx, "weather", header, verifier.Verify(ctx, header, request("1", "XCB")))
	assert.True(t, again.Replayed)
}

func TestFacilitator_SettleSkipsFinalPayments(t *testing.T) {
	settles := 0
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"shouldSettle":false,"payment":{"paymentId":"p-final","transactionHash":"` + txHash + `","amount":"1","recipient":"` + recipient + `","verified":true}}`))
	}, func(w http.ResponseWriter, _ *http.Request) {
		settles++
		_, _ = w.Write([]byte(`{"settled":true}`))
	})
	f := NewFacilitator(FacilitatorConfig{URL: srv.URL})
	header := &models.PaymentHeader{Transaction: txHash}

	v, err := f.Verify(context.Background(), header, request("1", "XCB"))
	require.NoError(t, err)
	require.NoError(t, f.Settle(context.Background(), header, v))
	assert.Zero(t, settles)
}

func TestFacilitator_VerifyFailures(t *testing.T) {
	header := &models.PaymentHeader{Method: models.MethodNative, Transaction: txHash}

	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{"invalid", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"valid":false,"error":"insufficient funds"}`))
		}, 0},
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}, 0},
		{"garbage", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		}, 0},
		{"valid without payment", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"valid":true}`))
		}, 0},
		{"timeout", func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"valid":true}`))
		}, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFacilitatorServer(t, tt.handler, nil)
			f := NewFacilitator(FacilitatorConfig{URL: srv.URL, Timeout: tt.timeout})

			_, err := f.Verify(context.Background(), header, request("1", "XCB"))
			assert.Error(t, err)
		})
	}
}

func TestFacilitator_VerifierRejectsUnderpayment(t *testing.T) {
	srv := newFacilitatorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"valid":true,"payment":{"transactionHash":"` + txHash + `","amount":"0.5","currency":"XCB","recipient":"` + recipient + `","verified":true}}`))
	}, nil)

	v := NewVerifier(NewFacilitator(FacilitatorConfig{URL: srv.URL}), nil, logger.NewNop(), func() time.Time { return testNow })
	header := &models.PaymentHeader{Method: models.MethodNative, Transaction: txHash}

	assert.Nil(t, v.Verify(context.Background(), header, request("1", "XCB")))
}

func TestFacilitator_Settle(t *testing.T) {
	var got settleRequest
	srv := newFacilitatorServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"settled":true}`))
	})
	f := NewFacilitator(FacilitatorConfig{URL: srv.URL})

	err := f.Settle(context.Background(), &models.PaymentHeader{Transaction: txHash}, verification("1", recipient))
	require.NoError(t, err)
	assert.Equal(t, recipient, got.Recipient)
	assert.Equal(t, txHash, got.Verification.TransactionHash)

	refused := newFacilitatorServer(t, nil, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"settled":false,"error":"nonce reused"}`))
	})
	err = NewFacilitator(FacilitatorConfig{URL: refused.URL}).Settle(context.Background(), &models.PaymentHeader{}, verification("1", recipient))
	assert.ErrorContains(t, err, "nonce reused")
}
