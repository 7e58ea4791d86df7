package repository

import (
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
)

type MemberEntity struct {
	ID            int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	FirstName     string    `db:"first_name"      gorm:"column:first_name;not null"`
	LastName      string    `db:"last_name"       gorm:"column:last_name;not null"`
	PhoneNumber   string    `db:"phone_number"    gorm:"column:phone_number;not null;uniqueIndex"`
	IsGuest       bool      `db:"is_guest"        gorm:"column:is_guest;not null;default:false"`
	IsActive      bool      `db:"is_active"       gorm:"column:is_active;not null;default:true"`
	ImportBatchID *string   `db:"import_batch_id" gorm:"column:import_batch_id;index"`
	CreatedAt     time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (MemberEntity) TableName() string {
	return "members"
}

func toMemberEntity(m *model.Member) *MemberEntity {
	if m == nil {
		return nil
	}
	return &MemberEntity{
		ID:            m.ID,
		FirstName:     m.FirstName,
		LastName:      m.LastName,
		PhoneNumber:   m.PhoneNumber,
		IsGuest:       m.IsGuest,
		IsActive:      m.IsActive,
		ImportBatchID: m.ImportBatchID,
		CreatedAt:     m.CreatedAt,
	}
}

func toMemberModel(e *MemberEntity) *model.Member {
	if e == nil {
		return nil
	}
	return &model.Member{
		ID:            e.ID,
		FirstName:     e.FirstName,
		LastName:      e.LastName,
		PhoneNumber:   e.PhoneNumber,
		IsGuest:       e.IsGuest,
		IsActive:      e.IsActive,
		ImportBatchID: e.ImportBatchID,
		CreatedAt:     e.CreatedAt,
	}
}
