package model

import "time"

// ReceiptLine is one category/amount row of a receipt.
type ReceiptLine struct {
	CategoryName string `json:"category_name"`
	AmountCents  int64  `json:"amount_cents"`
}

// ReceiptJob is the queue payload handed to the receipt dispatcher. One job
// per confirmed transaction or manual entry; a multi-category group gets a
// single job with several lines, never one job per category.
type ReceiptJob struct {
	// DedupeKey guards at-most-one send per logical receipt. It is the
	// checkout request id for M-Pesa receipts and the receipt number for
	// manual entries.
	DedupeKey       string        `json:"dedupe_key"`
	PhoneNumber     string        `json:"phone_number"`
	MemberName      string        `json:"member_name"`
	Lines           []ReceiptLine `json:"lines"`
	TotalCents      int64         `json:"total_cents"`
	ReceiptNumber   string        `json:"receipt_number"`
	TransactionDate time.Time     `json:"transaction_date"`
}

// ReceiptLogStatus records the outcome of one SMS dispatch attempt.
type ReceiptLogStatus string

const (
	ReceiptLogStatusSent   ReceiptLogStatus = "SENT"
	ReceiptLogStatusFailed ReceiptLogStatus = "FAILED"
)

// ReceiptLog is the audit record of receipt SMS dispatches. Delivery failure
// never changes a contribution's status; it only shows up here.
type ReceiptLog struct {
	ID                int64            `json:"id"`
	DedupeKey         string           `json:"dedupe_key"`
	PhoneNumber       string           `json:"phone_number"`
	Status            ReceiptLogStatus `json:"status"`
	ProviderMessageID string           `json:"provider_message_id,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}
