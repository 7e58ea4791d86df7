package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound = errors.New("payment transaction not found")
)

type PaymentRepository struct {
	*pg.DB
}

func NewPaymentRepository(db *pg.DB) *PaymentRepository {
	return &PaymentRepository{
		db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	entity := toPaymentEntity(p)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toPaymentModel(entity), nil
}

func (r *PaymentRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	var entity PaymentTransactionEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return toPaymentModel(&entity), nil
}

// TerminalUpdate carries the fields recorded when a transaction leaves
// pending.
type TerminalUpdate struct {
	Status             model.PaymentStatus
	MpesaReceiptNumber *string
	ResultCode         string
	ResultDesc         string
	TransactionDate    *time.Time
}

// MarkTerminal transitions a pending transaction to a terminal status with a
// conditional update. It returns false when the row was already terminal, so
// duplicate callbacks collapse to a no-op without locks; the status guard in
// the WHERE clause is what makes the transition happen at most once.
func (r *PaymentRepository) MarkTerminal(ctx context.Context, checkoutRequestID string, upd TerminalUpdate) (bool, error) {
	updates := map[string]interface{}{
		"status":      string(upd.Status),
		"result_code": upd.ResultCode,
		"result_desc": upd.ResultDesc,
	}
	if upd.MpesaReceiptNumber != nil {
		updates["mpesa_receipt_number"] = *upd.MpesaReceiptNumber
	}
	if upd.TransactionDate != nil {
		updates["transaction_date"] = *upd.TransactionDate
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&PaymentTransactionEntity{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, string(model.PaymentStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}
