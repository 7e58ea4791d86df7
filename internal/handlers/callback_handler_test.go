package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zawadi/giving-gateway/internal/services"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) ProcessCallback(ctx context.Context, cb services.PaymentCallback) error {
	args := m.Called(ctx, cb)
	return args.Error(0)
}

func successCallbackBody() []byte {
	return []byte(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": "29115-34620561-1",
				"CheckoutRequestID": "ws_CO_0001",
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 1500.00},
						{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
						{"Name": "TransactionDate", "Value": 20260828123000},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`)
}

func TestCallbackHandler_MpesaCallback(t *testing.T) {
	t.Run("success callback is parsed and acknowledged", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewCallbackHandler(svc)

		svc.On("ProcessCallback", mock.Anything, mock.MatchedBy(func(cb services.PaymentCallback) bool {
			return cb.CheckoutRequestID == "ws_CO_0001" &&
				cb.ResultCode == 0 &&
				cb.AmountCents == 150000 &&
				cb.MpesaReceiptNumber == "NLJ7RT61SV" &&
				cb.PhoneNumber == "254712345678" &&
				cb.TransactionDate != nil &&
				cb.TransactionDate.Equal(time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC))
		})).Return(nil)

		ctx := setupTestContext("POST", "/payments/mpesa/callback", successCallbackBody())
		handler.MpesaCallback(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var ack callbackAck
		err := json.Unmarshal(ctx.Response.Body(), &ack)
		require.NoError(t, err)
		assert.Equal(t, 0, ack.ResultCode)
		assert.Equal(t, "Accepted", ack.ResultDesc)

		svc.AssertExpectations(t)
	})

	t.Run("cancelled callback has no metadata", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewCallbackHandler(svc)

		body := []byte(`{
			"Body": {
				"stkCallback": {
					"MerchantRequestID": "29115-34620561-2",
					"CheckoutRequestID": "ws_CO_0002",
					"ResultCode": 1032,
					"ResultDesc": "Request cancelled by user"
				}
			}
		}`)

		svc.On("ProcessCallback", mock.Anything, mock.MatchedBy(func(cb services.PaymentCallback) bool {
			return cb.CheckoutRequestID == "ws_CO_0002" &&
				cb.ResultCode == 1032 &&
				cb.MpesaReceiptNumber == "" &&
				cb.TransactionDate == nil
		})).Return(nil)

		ctx := setupTestContext("POST", "/payments/mpesa/callback", body)
		handler.MpesaCallback(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewCallbackHandler(svc)

		ctx := setupTestContext("POST", "/payments/mpesa/callback", []byte("not json"))
		handler.MpesaCallback(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "ProcessCallback")
	})

	t.Run("missing checkout request id is rejected", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewCallbackHandler(svc)

		ctx := setupTestContext("POST", "/payments/mpesa/callback", []byte(`{"Body":{"stkCallback":{}}}`))
		handler.MpesaCallback(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("unknown transaction is rejected but acknowledged", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewCallbackHandler(svc)

		svc.On("ProcessCallback", mock.Anything, mock.Anything).Return(services.ErrUnknownTransaction)

		ctx := setupTestContext("POST", "/payments/mpesa/callback", successCallbackBody())
		handler.MpesaCallback(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var ack callbackAck
		err := json.Unmarshal(ctx.Response.Body(), &ack)
		require.NoError(t, err)
		assert.Equal(t, 1, ack.ResultCode)
	})

	t.Run("internal error returns 500", func(t *testing.T) {
		svc := new(MockPaymentService)
		handler := NewCallbackHandler(svc)

		svc.On("ProcessCallback", mock.Anything, mock.Anything).Return(errors.New("db down"))

		ctx := setupTestContext("POST", "/payments/mpesa/callback", successCallbackBody())
		handler.MpesaCallback(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
	})
}

func TestKesToCents(t *testing.T) {
	tests := []struct {
		amount   float64
		expected int64
	}{
		{1500.00, 150000},
		{1.00, 100},
		{25.50, 2550},
		{0.05, 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, kesToCents(tt.amount))
	}
}

func TestParseTransactionDate(t *testing.T) {
	t.Run("numeric value", func(t *testing.T) {
		parsed, ok := parseTransactionDate(float64(20260828123000))
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC), parsed)
	})

	t.Run("string value", func(t *testing.T) {
		parsed, ok := parseTransactionDate("20260828123000")
		require.True(t, ok)
		assert.Equal(t, 2026, parsed.Year())
	})

	t.Run("garbage", func(t *testing.T) {
		_, ok := parseTransactionDate("nope")
		assert.False(t, ok)
	})

	t.Run("nil", func(t *testing.T) {
		_, ok := parseTransactionDate(nil)
		assert.False(t, ok)
	})
}
