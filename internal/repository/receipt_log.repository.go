package repository

import (
	"context"

	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/pkg/pg"
)

type ReceiptLogRepository struct {
	*pg.DB
}

func NewReceiptLogRepository(db *pg.DB) *ReceiptLogRepository {
	return &ReceiptLogRepository{
		db,
	}
}

func (r *ReceiptLogRepository) Create(ctx context.Context, l *model.ReceiptLog) (*model.ReceiptLog, error) {
	entity := toReceiptLogEntity(l)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toReceiptLogModel(entity), nil
}

func (r *ReceiptLogRepository) ListByDedupeKey(ctx context.Context, dedupeKey string) ([]*model.ReceiptLog, error) {
	var entities []*ReceiptLogEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("dedupe_key = ?", dedupeKey).
		Order("id DESC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	models := make([]*model.ReceiptLog, len(entities))
	for i, e := range entities {
		models[i] = toReceiptLogModel(e)
	}
	return models, nil
}
