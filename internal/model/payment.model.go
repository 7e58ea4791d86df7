package model

import "time"

// PaymentStatus is the lifecycle state of an STK push collection request.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentOutcome is what the payment provider reports back on its callback.
type PaymentOutcome string

const (
	PaymentOutcomeSuccess   PaymentOutcome = "success"
	PaymentOutcomeCancelled PaymentOutcome = "cancelled"
	PaymentOutcomeFailed    PaymentOutcome = "failed"
)

// PaymentTransaction tracks one STK push request and its asynchronous
// confirmation. Multiple contributions from a multi-category submission share
// a single transaction.
type PaymentTransaction struct {
	ID                 int64         `json:"id"`
	MerchantRequestID  string        `json:"merchant_request_id"`
	CheckoutRequestID  string        `json:"checkout_request_id"`
	PhoneNumber        string        `json:"phone_number"`
	AmountCents        int64         `json:"amount_cents"`
	AccountReference   string        `json:"account_reference"`
	Description        string        `json:"description"`
	MpesaReceiptNumber *string       `json:"mpesa_receipt_number,omitempty"`
	Status             PaymentStatus `json:"status"`
	ResultCode         string        `json:"result_code,omitempty"`
	ResultDesc         string        `json:"result_desc,omitempty"`
	TransactionDate    *time.Time    `json:"transaction_date,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}
