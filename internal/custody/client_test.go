package custody

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neilotoole/slogt"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anchor-platform/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	bs := DefaultBreakerSettings()
	bs.ConsecutiveFailures = 2
	bs.Timeout = time.Hour
	return NewClient(srv.URL, time.Second, bs, slogt.New(t))
}

func TestCreateTransaction(t *testing.T) {
	var got createTransactionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	txn := &domain.Transaction{
		ID:            uuid.New(),
		Protocol:      domain.ProtocolSEP24,
		Kind:          domain.KindWithdrawal,
		AmountIn:      decimal.NewNullDecimal(decimal.RequireFromString("10.5")),
		AmountInAsset: "stellar:USDC:GA",
		Memo:          "123",
		MemoType:      domain.MemoTypeID,
	}
	require.NoError(t, c.CreateTransaction(context.Background(), txn))

	assert.Equal(t, txn.ID.String(), got.ID)
	assert.Equal(t, "sep24", got.Protocol)
	assert.Equal(t, "10.5", got.Amount)
	assert.Equal(t, "stellar:USDC:GA", got.AmountAsset)
	assert.Equal(t, "123", got.Memo)
}

func TestCreateTransactionPayment(t *testing.T) {
	id := uuid.New()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/"+id.String()+"/payments", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"payment-1"}`))
	})

	assert.NoError(t, c.CreateTransactionPayment(context.Background(), &domain.Transaction{ID: id}))
}

func TestCreateTransactionRefund(t *testing.T) {
	id := uuid.New()
	var got createRefundRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/"+id.String()+"/refunds", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.CreateTransactionRefund(context.Background(), &domain.Transaction{ID: id}, domain.RefundRequest{
		Amount:         decimal.RequireFromString("9.5"),
		AmountAsset:    "stellar:USDC:GA",
		AmountFee:      decimal.RequireFromString("0.5"),
		AmountFeeAsset: "stellar:USDC:GA",
		Memo:           "42",
		MemoType:       domain.MemoTypeID,
	})

	require.NoError(t, err)
	assert.Equal(t, "9.5", got.Amount)
	assert.Equal(t, "0.5", got.AmountFee)
	assert.Equal(t, "stellar:USDC:GA", got.AmountFeeAsset)
	assert.Equal(t, "42", got.Memo)
}

func TestGenerateDepositAddress(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/payments/assets/stellar:USDC:GA/address", r.URL.Path)
		_, _ = w.Write([]byte(`{"address":"GCUSTODY","memo":"42","memoType":"id"}`))
	})

	info, err := c.GenerateDepositAddress(context.Background(), "stellar:USDC:GA")

	require.NoError(t, err)
	assert.Equal(t, domain.DepositInfo{Address: "GCUSTODY", Memo: "42", MemoType: "id"}, info)
}

func TestResponseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"rawErrorMessage":"bad asset"}`))
	})

	err := c.CreateTransactionPayment(context.Background(), &domain.Transaction{ID: uuid.New()})

	var respErr *ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusBadRequest, respErr.StatusCode)
	assert.Contains(t, respErr.Body, "bad asset")
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	txn := &domain.Transaction{ID: uuid.New()}

	for range 2 {
		assert.Error(t, c.CreateTransactionPayment(context.Background(), txn))
	}
	err := c.CreateTransactionPayment(context.Background(), txn)

	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	})
	txn := &domain.Transaction{ID: uuid.New()}

	for range 4 {
		var respErr *ResponseError
		assert.ErrorAs(t, c.CreateTransactionPayment(context.Background(), txn), &respErr)
	}
	assert.Equal(t, int32(4), calls.Load())
}

func TestMemoTypeSupport(t *testing.T) {
	c := NewClient("http://unused", time.Second, DefaultBreakerSettings(), slogt.New(t))

	assert.True(t, c.IsMemoTypeSupported(domain.MemoTypeID))
	assert.True(t, c.IsMemoTypeSupported(domain.MemoTypeText))
	assert.False(t, c.IsMemoTypeSupported(domain.MemoTypeHash))
}
