package repository

import (
	"context"
	"errors"

	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrMemberNotFound = errors.New("member not found")
)

type MemberRepository struct {
	*pg.DB
}

func NewMemberRepository(db *pg.DB) *MemberRepository {
	return &MemberRepository{
		db,
	}
}

func (r *MemberRepository) FindByPhone(ctx context.Context, phoneNumber string) (*model.Member, error) {
	var entity MemberEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("phone_number = ?", phoneNumber).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}

	return toMemberModel(&entity), nil
}

func (r *MemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	var entity MemberEntity

	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}

	return toMemberModel(&entity), nil
}

// CreateGuest records a member auto-created at contribution time for a phone
// number the system has not seen before. FirstOrCreate keeps concurrent
// submissions from the same unknown phone from violating the unique index.
func (r *MemberRepository) CreateGuest(ctx context.Context, phoneNumber, firstName, lastName string) (*model.Member, error) {
	if firstName == "" {
		firstName = "Guest"
	}
	if lastName == "" {
		lastName = "Member"
	}

	entity := MemberEntity{}
	err := r.Write(ctx).WithContext(ctx).
		Where("phone_number = ?", phoneNumber).
		Attrs(MemberEntity{
			FirstName:   firstName,
			LastName:    lastName,
			PhoneNumber: phoneNumber,
			IsGuest:     true,
			IsActive:    true,
		}).
		FirstOrCreate(&entity).
		Error
	if err != nil {
		return nil, err
	}

	return toMemberModel(&entity), nil
}

func (r *MemberRepository) Create(ctx context.Context, m *model.Member) (*model.Member, error) {
	entity := toMemberEntity(m)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMemberModel(entity), nil
}
