package repository

import (
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
)

type ReceiptLogEntity struct {
	ID                int64     `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	DedupeKey         string    `db:"dedupe_key"          gorm:"column:dedupe_key;not null;index"`
	PhoneNumber       string    `db:"phone_number"        gorm:"column:phone_number;not null;index"`
	Status            string    `db:"status"              gorm:"column:status;not null"`
	ProviderMessageID string    `db:"provider_message_id" gorm:"column:provider_message_id"`
	ErrorMessage      string    `db:"error_message"       gorm:"column:error_message"`
	CreatedAt         time.Time `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
}

func (ReceiptLogEntity) TableName() string {
	return "receipt_logs"
}

func toReceiptLogEntity(l *model.ReceiptLog) *ReceiptLogEntity {
	if l == nil {
		return nil
	}
	return &ReceiptLogEntity{
		ID:                l.ID,
		DedupeKey:         l.DedupeKey,
		PhoneNumber:       l.PhoneNumber,
		Status:            string(l.Status),
		ProviderMessageID: l.ProviderMessageID,
		ErrorMessage:      l.ErrorMessage,
		CreatedAt:         l.CreatedAt,
	}
}

func toReceiptLogModel(e *ReceiptLogEntity) *model.ReceiptLog {
	if e == nil {
		return nil
	}
	return &model.ReceiptLog{
		ID:                e.ID,
		DedupeKey:         e.DedupeKey,
		PhoneNumber:       e.PhoneNumber,
		Status:            model.ReceiptLogStatus(e.Status),
		ProviderMessageID: e.ProviderMessageID,
		ErrorMessage:      e.ErrorMessage,
		CreatedAt:         e.CreatedAt,
	}
}
