package repository

import (
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
)

type ContributionEntity struct {
	ID                   int64      `db:"id"                     gorm:"primaryKey;autoIncrement;column:id"`
	MemberID             int64      `db:"member_id"              gorm:"column:member_id;not null;index"`
	CategoryID           int64      `db:"category_id"            gorm:"column:category_id;not null;index"`
	PaymentTransactionID *int64     `db:"payment_transaction_id" gorm:"column:payment_transaction_id;index"`
	GroupID              *string    `db:"group_id"               gorm:"column:group_id;index"`
	AmountCents          int64      `db:"amount_cents"           gorm:"column:amount_cents;not null"`
	Status               string     `db:"status"                 gorm:"column:status;not null;index"`
	EntryType            string     `db:"entry_type"             gorm:"column:entry_type;not null;index"`
	ReceiptNumber        *string    `db:"receipt_number"         gorm:"column:receipt_number;uniqueIndex"`
	TransactionDate      time.Time  `db:"transaction_date"       gorm:"column:transaction_date;not null;index"`
	Notes                string     `db:"notes"                  gorm:"column:notes"`
	CreatedAt            time.Time  `db:"created_at"             gorm:"column:created_at;autoCreateTime"`
	Member               *MemberEntity   `gorm:"foreignKey:MemberID;references:ID;constraint:OnDelete:RESTRICT"`
	Category             *CategoryEntity `gorm:"foreignKey:CategoryID;references:ID;constraint:OnDelete:RESTRICT"`
}

func (ContributionEntity) TableName() string {
	return "contributions"
}

func toContributionEntity(c *model.Contribution) *ContributionEntity {
	if c == nil {
		return nil
	}
	return &ContributionEntity{
		ID:                   c.ID,
		MemberID:             c.MemberID,
		CategoryID:           c.CategoryID,
		PaymentTransactionID: c.PaymentTransactionID,
		GroupID:              c.GroupID,
		AmountCents:          c.AmountCents,
		Status:               string(c.Status),
		EntryType:            string(c.EntryType),
		ReceiptNumber:        c.ReceiptNumber,
		TransactionDate:      c.TransactionDate,
		Notes:                c.Notes,
		CreatedAt:            c.CreatedAt,
	}
}

func toContributionModel(e *ContributionEntity) *model.Contribution {
	if e == nil {
		return nil
	}
	return &model.Contribution{
		ID:                   e.ID,
		MemberID:             e.MemberID,
		CategoryID:           e.CategoryID,
		PaymentTransactionID: e.PaymentTransactionID,
		GroupID:              e.GroupID,
		AmountCents:          e.AmountCents,
		Status:               model.ContributionStatus(e.Status),
		EntryType:            model.EntryType(e.EntryType),
		ReceiptNumber:        e.ReceiptNumber,
		TransactionDate:      e.TransactionDate,
		Notes:                e.Notes,
		CreatedAt:            e.CreatedAt,
	}
}

func toContributionModels(entities []*ContributionEntity) []*model.Contribution {
	if entities == nil {
		return nil
	}
	models := make([]*model.Contribution, len(entities))
	for i, e := range entities {
		models[i] = toContributionModel(e)
	}
	return models
}
