package repository

import (
	"context"
	"errors"
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/pkg/pg"
)

var (
	// ErrContributionNotFound is returned when a contribution does not exist.
	ErrContributionNotFound = errors.New("contribution not found")
)

type ContributionRepository struct {
	*pg.DB
}

func NewContributionRepository(db *pg.DB) *ContributionRepository {
	return &ContributionRepository{
		db,
	}
}

func (r *ContributionRepository) Create(ctx context.Context, c *model.Contribution) (*model.Contribution, error) {
	entity := toContributionEntity(c)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toContributionModel(entity), nil
}

// CreateBatch inserts all contributions of one submission. Callers wrap it in
// WithinTransaction so a multi-category group is all-or-nothing.
func (r *ContributionRepository) CreateBatch(ctx context.Context, contributions []*model.Contribution) ([]*model.Contribution, error) {
	entities := make([]*ContributionEntity, len(contributions))
	for i, c := range contributions {
		entities[i] = toContributionEntity(c)
	}

	if err := r.Write(ctx).WithContext(ctx).Create(&entities).Error; err != nil {
		return nil, err
	}

	return toContributionModels(entities), nil
}

func (r *ContributionRepository) List(ctx context.Context, f model.ContributionFilter) ([]*model.Contribution, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&ContributionEntity{})

	if f.MemberID != nil {
		q = q.Where("member_id = ?", *f.MemberID)
	}
	if f.PhoneNumber != nil && *f.PhoneNumber != "" {
		q = q.Where("member_id IN (?)",
			r.Read(ctx).Model(&MemberEntity{}).Select("id").Where("phone_number = ?", *f.PhoneNumber))
	}
	if f.CategoryCode != nil && *f.CategoryCode != "" {
		q = q.Where("category_id IN (?)",
			r.Read(ctx).Model(&CategoryEntity{}).Select("id").Where("code = ?", *f.CategoryCode))
	}
	if f.GroupID != nil && *f.GroupID != "" {
		q = q.Where("group_id = ?", *f.GroupID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.From != nil {
		q = q.Where("transaction_date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("transaction_date < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "transaction_date"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*ContributionEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toContributionModels(entities), total, nil
}

func (r *ContributionRepository) GetByPaymentTransaction(ctx context.Context, paymentTransactionID int64) ([]*model.Contribution, error) {
	var entities []*ContributionEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("payment_transaction_id = ?", paymentTransactionID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toContributionModels(entities), nil
}

// UpdateStatusByPaymentTransaction moves every contribution linked to the
// transaction out of pending. Terminal rows are left untouched so a late
// duplicate callback cannot re-open them.
func (r *ContributionRepository) UpdateStatusByPaymentTransaction(ctx context.Context, paymentTransactionID int64, status model.ContributionStatus, transactionDate *time.Time) (int64, error) {
	updates := map[string]interface{}{"status": string(status)}
	if transactionDate != nil {
		updates["transaction_date"] = *transactionDate
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&ContributionEntity{}).
		Where("payment_transaction_id = ? AND status = ?", paymentTransactionID, string(model.ContributionStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// UpdateStatusByIDs is used to fail freshly created pending rows when the
// payment provider rejects the collection request.
func (r *ContributionRepository) UpdateStatusByIDs(ctx context.Context, ids []int64, status model.ContributionStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&ContributionEntity{}).
		Where("id IN ? AND status = ?", ids, string(model.ContributionStatusPending)).
		Update("status", string(status))
	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}

// LinkPaymentTransaction attaches freshly created pending rows to the
// transaction returned by the payment provider.
func (r *ContributionRepository) LinkPaymentTransaction(ctx context.Context, ids []int64, paymentTransactionID int64) error {
	if len(ids) == 0 {
		return nil
	}

	return r.Write(ctx).WithContext(ctx).
		Model(&ContributionEntity{}).
		Where("id IN ?", ids).
		Update("payment_transaction_id", paymentTransactionID).
		Error
}

func (r *ContributionRepository) ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error) {
	var count int64

	err := r.Read(ctx).WithContext(ctx).
		Model(&ContributionEntity{}).
		Where("receipt_number = ?", receiptNumber).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}
