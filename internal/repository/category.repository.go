package repository

import (
	"context"
	"errors"

	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrCategoryNotFound = errors.New("category not found")
)

type CategoryRepository struct {
	*pg.DB
}

func NewCategoryRepository(db *pg.DB) *CategoryRepository {
	return &CategoryRepository{
		db,
	}
}

// GetByCode looks a category up by its short code (the M-Pesa account
// reference). The caller decides what an inactive category means.
func (r *CategoryRepository) GetByCode(ctx context.Context, code string) (*model.ContributionCategory, error) {
	var entity CategoryEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("code = ?", code).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}

	return toCategoryModel(&entity), nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id int64) (*model.ContributionCategory, error) {
	var entity CategoryEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}

	return toCategoryModel(&entity), nil
}

func (r *CategoryRepository) List(ctx context.Context, activeOnly bool) ([]*model.ContributionCategory, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&CategoryEntity{})

	if activeOnly {
		q = q.Where("is_active = ?", true)
	}

	var entities []*CategoryEntity
	if err := q.Order("name ASC").Find(&entities).Error; err != nil {
		return nil, err
	}

	return toCategoryModels(entities), nil
}

func (r *CategoryRepository) Create(ctx context.Context, c *model.ContributionCategory) (*model.ContributionCategory, error) {
	entity := toCategoryEntity(c)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toCategoryModel(entity), nil
}
