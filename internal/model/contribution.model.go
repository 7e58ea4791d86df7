package model

import (
	"errors"
	"time"
)

// ContributionStatus is the lifecycle state of a contribution.
// pending is the only non-terminal state; completed and failed are never
// re-opened.
type ContributionStatus string

const (
	ContributionStatusPending   ContributionStatus = "pending"
	ContributionStatusCompleted ContributionStatus = "completed"
	ContributionStatusFailed    ContributionStatus = "failed"
)

// EntryType says how a contribution entered the system.
type EntryType string

const (
	EntryTypeMpesa    EntryType = "mpesa"
	EntryTypeCash     EntryType = "cash"
	EntryTypeEnvelope EntryType = "envelope"
	EntryTypeManual   EntryType = "manual"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeMpesa, EntryTypeCash, EntryTypeEnvelope, EntryTypeManual:
		return true
	}
	return false
}

// IsManual reports whether the entry bypasses the payment collaborator and is
// recorded as completed immediately.
func (t EntryType) IsManual() bool {
	return t == EntryTypeCash || t == EntryTypeEnvelope || t == EntryTypeManual
}

type Contribution struct {
	ID                   int64              `json:"id"`
	MemberID             int64              `json:"member_id"`
	CategoryID           int64              `json:"category_id"`
	PaymentTransactionID *int64             `json:"payment_transaction_id,omitempty"`
	GroupID              *string            `json:"group_id,omitempty"` // set only for multi-category submissions
	AmountCents          int64              `json:"amount_cents"`
	Status               ContributionStatus `json:"status"`
	EntryType            EntryType          `json:"entry_type"`
	ReceiptNumber        *string            `json:"receipt_number,omitempty"`
	TransactionDate      time.Time          `json:"transaction_date"`
	Notes                string             `json:"notes,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
}

// ContributionEntry is one (category, amount) pair of a submission.
type ContributionEntry struct {
	CategoryCode string `json:"category_code"`
	AmountCents  int64  `json:"amount_cents"`
}

// ContributionCreateRequest is the input for initiating a contribution,
// single- or multi-category, M-Pesa or manual.
type ContributionCreateRequest struct {
	PhoneNumber     string              `json:"phone_number"`
	Entries         []ContributionEntry `json:"entries"`
	EntryType       EntryType           `json:"entry_type"`
	ReceiptNumber   *string             `json:"receipt_number,omitempty"`
	TransactionDate *time.Time          `json:"transaction_date,omitempty"`
	FirstName       string              `json:"first_name,omitempty"` // used when a guest member is created
	LastName        string              `json:"last_name,omitempty"`
	Notes           string              `json:"notes,omitempty"`
}

func (r ContributionCreateRequest) Validate() error {
	if r.PhoneNumber == "" {
		return errors.New("phone_number is required")
	}
	if len(r.Entries) == 0 {
		return errors.New("at least one entry is required")
	}
	if !r.EntryType.Valid() {
		return errors.New("entry_type must be one of: mpesa, cash, envelope, manual")
	}
	for _, e := range r.Entries {
		if e.CategoryCode == "" {
			return errors.New("category_code is required for every entry")
		}
	}
	return nil
}

// TotalCents sums all entry amounts; the M-Pesa collection request is made
// for this total.
func (r ContributionCreateRequest) TotalCents() int64 {
	var total int64
	for _, e := range r.Entries {
		total += e.AmountCents
	}
	return total
}

// ContributionFilter controls List queries.
type ContributionFilter struct {
	MemberID     *int64
	PhoneNumber  *string
	CategoryCode *string
	GroupID      *string
	Statuses     []ContributionStatus
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
	Desc         bool
}
