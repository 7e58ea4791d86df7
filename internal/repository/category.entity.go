package repository

import (
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
)

type CategoryEntity struct {
	ID          int64     `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	Name        string    `db:"name"        gorm:"column:name;not null;uniqueIndex"`
	Code        string    `db:"code"        gorm:"column:code;not null;uniqueIndex"`
	Description string    `db:"description" gorm:"column:description"`
	IsActive    bool      `db:"is_active"   gorm:"column:is_active;not null;default:true;index"`
	CreatedAt   time.Time `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
}

func (CategoryEntity) TableName() string {
	return "contribution_categories"
}

func toCategoryEntity(c *model.ContributionCategory) *CategoryEntity {
	if c == nil {
		return nil
	}
	return &CategoryEntity{
		ID:          c.ID,
		Name:        c.Name,
		Code:        c.Code,
		Description: c.Description,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
	}
}

func toCategoryModel(e *CategoryEntity) *model.ContributionCategory {
	if e == nil {
		return nil
	}
	return &model.ContributionCategory{
		ID:          e.ID,
		Name:        e.Name,
		Code:        e.Code,
		Description: e.Description,
		IsActive:    e.IsActive,
		CreatedAt:   e.CreatedAt,
	}
}

func toCategoryModels(entities []*CategoryEntity) []*model.ContributionCategory {
	if entities == nil {
		return nil
	}
	models := make([]*model.ContributionCategory, len(entities))
	for i, e := range entities {
		models[i] = toCategoryModel(e)
	}
	return models
}
