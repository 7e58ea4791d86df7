package repository

import (
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
)

type PaymentTransactionEntity struct {
	ID                 int64      `db:"id"                   gorm:"primaryKey;autoIncrement;column:id"`
	MerchantRequestID  string     `db:"merchant_request_id"  gorm:"column:merchant_request_id;not null;uniqueIndex"`
	CheckoutRequestID  string     `db:"checkout_request_id"  gorm:"column:checkout_request_id;not null;uniqueIndex"`
	PhoneNumber        string     `db:"phone_number"         gorm:"column:phone_number;not null;index"`
	AmountCents        int64      `db:"amount_cents"         gorm:"column:amount_cents;not null"`
	AccountReference   string     `db:"account_reference"    gorm:"column:account_reference;not null"`
	Description        string     `db:"description"          gorm:"column:description"`
	MpesaReceiptNumber *string    `db:"mpesa_receipt_number" gorm:"column:mpesa_receipt_number;uniqueIndex"`
	Status             string     `db:"status"               gorm:"column:status;not null;index"`
	ResultCode         string     `db:"result_code"          gorm:"column:result_code"`
	ResultDesc         string     `db:"result_desc"          gorm:"column:result_desc"`
	TransactionDate    *time.Time `db:"transaction_date"     gorm:"column:transaction_date"`
	CreatedAt          time.Time  `db:"created_at"           gorm:"column:created_at;autoCreateTime"`
}

func (PaymentTransactionEntity) TableName() string {
	return "payment_transactions"
}

func toPaymentEntity(p *model.PaymentTransaction) *PaymentTransactionEntity {
	if p == nil {
		return nil
	}
	return &PaymentTransactionEntity{
		ID:                 p.ID,
		MerchantRequestID:  p.MerchantRequestID,
		CheckoutRequestID:  p.CheckoutRequestID,
		PhoneNumber:        p.PhoneNumber,
		AmountCents:        p.AmountCents,
		AccountReference:   p.AccountReference,
		Description:        p.Description,
		MpesaReceiptNumber: p.MpesaReceiptNumber,
		Status:             string(p.Status),
		ResultCode:         p.ResultCode,
		ResultDesc:         p.ResultDesc,
		TransactionDate:    p.TransactionDate,
		CreatedAt:          p.CreatedAt,
	}
}

func toPaymentModel(e *PaymentTransactionEntity) *model.PaymentTransaction {
	if e == nil {
		return nil
	}
	return &model.PaymentTransaction{
		ID:                 e.ID,
		MerchantRequestID:  e.MerchantRequestID,
		CheckoutRequestID:  e.CheckoutRequestID,
		PhoneNumber:        e.PhoneNumber,
		AmountCents:        e.AmountCents,
		AccountReference:   e.AccountReference,
		Description:        e.Description,
		MpesaReceiptNumber: e.MpesaReceiptNumber,
		Status:             model.PaymentStatus(e.Status),
		ResultCode:         e.ResultCode,
		ResultDesc:         e.ResultDesc,
		TransactionDate:    e.TransactionDate,
		CreatedAt:          e.CreatedAt,
	}
}
