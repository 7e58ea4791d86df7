package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/zawadi/giving-gateway/internal/services"
	xhttp "github.com/zawadi/giving-gateway/pkg/http"
	"github.com/zawadi/giving-gateway/pkg/logger"
)

type PaymentService interface {
	ProcessCallback(ctx context.Context, cb services.PaymentCallback) error
}

type CallbackHandler struct {
	svc PaymentService
}

func RegisterCallbackRoutes(e *router.Group, h *CallbackHandler) {
	e.POST("/payments/mpesa/callback", h.MpesaCallback)
}

func NewCallbackHandler(svc PaymentService) *CallbackHandler {
	return &CallbackHandler{svc: svc}
}

// stkCallbackEnvelope is the Daraja STK push result as it arrives on the
// wire. CallbackMetadata is present only on success and its Item values are
// untyped (numbers for Amount, TransactionDate and PhoneNumber, a string for
// MpesaReceiptNumber).
type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

const transactionDateLayout = "20060102150405"

// MpesaCallback receives the asynchronous STK push result. The provider only
// needs an acknowledgement; retries and duplicates are resolved inside the
// service, so anything except a malformed body or an unknown transaction is
// acknowledged as accepted.
func (h *CallbackHandler) MpesaCallback(ctx *xhttp.RequestCtx) {
	var envelope stkCallbackEnvelope
	if err := readJSON(ctx, &envelope); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	stk := envelope.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		writeError(ctx, 400, "CheckoutRequestID is required")
		return
	}

	cb := services.PaymentCallback{
		CheckoutRequestID: stk.CheckoutRequestID,
		MerchantRequestID: stk.MerchantRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				cb.AmountCents = kesToCents(v)
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				cb.MpesaReceiptNumber = v
			}
		case "TransactionDate":
			if t, ok := parseTransactionDate(item.Value); ok {
				cb.TransactionDate = &t
			}
		case "PhoneNumber":
			cb.PhoneNumber = metadataString(item.Value)
		}
	}

	if err := h.svc.ProcessCallback(ctx, cb); err != nil {
		if errors.Is(err, services.ErrUnknownTransaction) {
			logger.Warn("callback for unknown transaction", "checkout_request_id", stk.CheckoutRequestID)
			writeJSON(ctx, 200, callbackAck{ResultCode: 1, ResultDesc: "Rejected"})
			return
		}
		logger.Error("failed to process payment callback",
			"checkout_request_id", stk.CheckoutRequestID, "error", err)
		writeError(ctx, 500, "callback processing failed")
		return
	}

	writeJSON(ctx, 200, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

// kesToCents converts the provider's whole-shilling float to cents without
// drifting on the binary fraction.
func kesToCents(amount float64) int64 {
	return int64(amount*100 + 0.5)
}

// parseTransactionDate handles the numeric YYYYMMDDHHMMSS the provider sends,
// whether it arrives as a JSON number or a string.
func parseTransactionDate(v interface{}) (time.Time, bool) {
	s := metadataString(v)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(transactionDateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func metadataString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
