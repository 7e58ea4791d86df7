package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gateway "github.com/zawadi/giving-gateway/internal/gateways"
	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/internal/repository"
)

type MockContributionRepository struct {
	mock.Mock
}

func (m *MockContributionRepository) CreateBatch(ctx context.Context, contributions []*model.Contribution) ([]*model.Contribution, error) {
	args := m.Called(ctx, contributions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Contribution), args.Error(1)
}

func (m *MockContributionRepository) List(ctx context.Context, f model.ContributionFilter) ([]*model.Contribution, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Contribution), args.Get(1).(int64), args.Error(2)
}

func (m *MockContributionRepository) UpdateStatusByIDs(ctx context.Context, ids []int64, status model.ContributionStatus) (int64, error) {
	args := m.Called(ctx, ids, status)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockContributionRepository) LinkPaymentTransaction(ctx context.Context, ids []int64, paymentTransactionID int64) error {
	args := m.Called(ctx, ids, paymentTransactionID)
	return args.Error(0)
}

func (m *MockContributionRepository) ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error) {
	args := m.Called(ctx, receiptNumber)
	return args.Bool(0), args.Error(1)
}

func (m *MockContributionRepository) GetByPaymentTransaction(ctx context.Context, paymentTransactionID int64) ([]*model.Contribution, error) {
	args := m.Called(ctx, paymentTransactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Contribution), args.Error(1)
}

func (m *MockContributionRepository) UpdateStatusByPaymentTransaction(ctx context.Context, paymentTransactionID int64, status model.ContributionStatus, transactionDate *time.Time) (int64, error) {
	args := m.Called(ctx, paymentTransactionID, status, transactionDate)
	return args.Get(0).(int64), args.Error(1)
}

type MockMemberRepository struct {
	mock.Mock
}

func (m *MockMemberRepository) FindByPhone(ctx context.Context, phoneNumber string) (*model.Member, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Member), args.Error(1)
}

func (m *MockMemberRepository) CreateGuest(ctx context.Context, phoneNumber, firstName, lastName string) (*model.Member, error) {
	args := m.Called(ctx, phoneNumber, firstName, lastName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Member), args.Error(1)
}

func (m *MockMemberRepository) GetByID(ctx context.Context, id int64) (*model.Member, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Member), args.Error(1)
}

type MockCategoryRepository struct {
	mock.Mock
}

func (m *MockCategoryRepository) GetByCode(ctx context.Context, code string) (*model.ContributionCategory, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContributionCategory), args.Error(1)
}

func (m *MockCategoryRepository) GetByID(ctx context.Context, id int64) (*model.ContributionCategory, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ContributionCategory), args.Error(1)
}

func (m *MockCategoryRepository) List(ctx context.Context, activeOnly bool) ([]*model.ContributionCategory, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.ContributionCategory), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error) {
	args := m.Called(ctx, checkoutRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentTransaction), args.Error(1)
}

func (m *MockPaymentRepository) MarkTerminal(ctx context.Context, checkoutRequestID string, upd repository.TerminalUpdate) (bool, error) {
	args := m.Called(ctx, checkoutRequestID, upd)
	return args.Bool(0), args.Error(1)
}

type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockPaymentGateway struct {
	mock.Mock
}

func (m *MockPaymentGateway) STKPush(ctx context.Context, req *gateway.STKPushRequest) (*gateway.STKPushResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.STKPushResponse), args.Error(1)
}

type MockReceiptPublisher struct {
	mock.Mock
}

func (m *MockReceiptPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

type contributionServiceMocks struct {
	contributionRepo *MockContributionRepository
	memberRepo       *MockMemberRepository
	categoryRepo     *MockCategoryRepository
	paymentRepo      *MockPaymentRepository
	txManager        *MockTransactionManager
	paymentGateway   *MockPaymentGateway
	receiptQueue     *MockReceiptPublisher
}

func newContributionService() (*ContributionService, *contributionServiceMocks) {
	m := &contributionServiceMocks{
		contributionRepo: new(MockContributionRepository),
		memberRepo:       new(MockMemberRepository),
		categoryRepo:     new(MockCategoryRepository),
		paymentRepo:      new(MockPaymentRepository),
		txManager:        new(MockTransactionManager),
		paymentGateway:   new(MockPaymentGateway),
		receiptQueue:     new(MockReceiptPublisher),
	}

	svc := NewContributionService(
		m.contributionRepo,
		m.memberRepo,
		m.categoryRepo,
		m.paymentRepo,
		m.txManager,
		m.paymentGateway,
		m.receiptQueue,
		100,
		10,
	)
	return svc, m
}

func titheCategory() *model.ContributionCategory {
	return &model.ContributionCategory{ID: 1, Name: "Tithe", Code: "TITHE", IsActive: true}
}

func activeMember() *model.Member {
	return &model.Member{ID: 7, FirstName: "Wanjiku", LastName: "Kamau", PhoneNumber: "254712345678", IsActive: true}
}

func mpesaRequest() model.ContributionCreateRequest {
	return model.ContributionCreateRequest{
		PhoneNumber: "0712345678",
		EntryType:   model.EntryTypeMpesa,
		Entries: []model.ContributionEntry{
			{CategoryCode: "TITHE", AmountCents: 150000},
		},
	}
}

func TestContributionService_Create_Validation(t *testing.T) {
	svc, _ := newContributionService()
	ctx := context.Background()

	t.Run("missing phone", func(t *testing.T) {
		req := mpesaRequest()
		req.PhoneNumber = ""
		_, err := svc.Create(ctx, req)
		assert.Error(t, err)
	})

	t.Run("invalid phone", func(t *testing.T) {
		req := mpesaRequest()
		req.PhoneNumber = "12345"
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidPhone)
	})

	t.Run("no entries", func(t *testing.T) {
		req := mpesaRequest()
		req.Entries = nil
		_, err := svc.Create(ctx, req)
		assert.Error(t, err)
	})

	t.Run("below minimum amount", func(t *testing.T) {
		req := mpesaRequest()
		req.Entries[0].AmountCents = 50
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrBelowMinimumAmount)
	})

	t.Run("too many categories", func(t *testing.T) {
		req := mpesaRequest()
		req.Entries = nil
		for i := 0; i < 11; i++ {
			req.Entries = append(req.Entries, model.ContributionEntry{CategoryCode: "TITHE", AmountCents: 1000})
		}
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrTooManyCategories)
	})

	t.Run("duplicate category", func(t *testing.T) {
		req := mpesaRequest()
		req.Entries = append(req.Entries, model.ContributionEntry{CategoryCode: " tithe ", AmountCents: 1000})
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, ErrDuplicateCategory)
	})

	t.Run("invalid entry type", func(t *testing.T) {
		req := mpesaRequest()
		req.EntryType = "card"
		_, err := svc.Create(ctx, req)
		assert.Error(t, err)
	})
}

func TestContributionService_Create_CategoryResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown category", func(t *testing.T) {
		svc, m := newContributionService()
		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(nil, repository.ErrCategoryNotFound)

		_, err := svc.Create(ctx, mpesaRequest())
		assert.ErrorIs(t, err, ErrCategoryNotFound)
	})

	t.Run("inactive category", func(t *testing.T) {
		svc, m := newContributionService()
		inactive := titheCategory()
		inactive.IsActive = false
		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(inactive, nil)

		_, err := svc.Create(ctx, mpesaRequest())
		assert.ErrorIs(t, err, ErrInactiveCategory)
	})

	t.Run("code is upper-cased and trimmed", func(t *testing.T) {
		svc, m := newContributionService()
		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(nil, repository.ErrMemberNotFound)
		m.memberRepo.On("CreateGuest", ctx, "254712345678", "", "").Return(nil, assert.AnError)

		req := mpesaRequest()
		req.Entries[0].CategoryCode = " tithe "
		_, err := svc.Create(ctx, req)
		assert.Error(t, err)
		m.categoryRepo.AssertExpectations(t)
	})
}

func TestContributionService_Create_Mpesa(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		svc, m := newContributionService()
		member := activeMember()

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Return([]*model.Contribution{
			{ID: 11, MemberID: member.ID, CategoryID: 1, AmountCents: 150000, Status: model.ContributionStatusPending, EntryType: model.EntryTypeMpesa},
		}, nil)
		m.paymentGateway.On("STKPush", ctx, mock.MatchedBy(func(req *gateway.STKPushRequest) bool {
			return req.AmountCents == 150000 && req.PhoneNumber == "254712345678" && req.AccountReference == "TITHE"
		})).Return(&gateway.STKPushResponse{
			MerchantRequestID: "29115-1",
			CheckoutRequestID: "ws_CO_0001",
			ResponseCode:      "0",
			CustomerMessage:   "Success. Request accepted for processing",
		}, nil)
		m.paymentRepo.On("Create", ctx, mock.Anything).Return(&model.PaymentTransaction{
			ID:                5,
			CheckoutRequestID: "ws_CO_0001",
			Status:            model.PaymentStatusPending,
		}, nil)
		m.contributionRepo.On("LinkPaymentTransaction", ctx, []int64{11}, int64(5)).Return(nil)

		result, err := svc.Create(ctx, mpesaRequest())
		require.NoError(t, err)
		require.NotNil(t, result.Payment)
		assert.Equal(t, "ws_CO_0001", result.Payment.CheckoutRequestID)
		assert.Len(t, result.Contributions, 1)
		require.NotNil(t, result.Contributions[0].PaymentTransactionID)
		assert.Equal(t, int64(5), *result.Contributions[0].PaymentTransactionID)
		assert.Empty(t, result.ReceiptNumber)

		m.contributionRepo.AssertExpectations(t)
		m.paymentRepo.AssertExpectations(t)
		m.receiptQueue.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("stk rejection fails pending rows", func(t *testing.T) {
		svc, m := newContributionService()
		member := activeMember()

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Return([]*model.Contribution{
			{ID: 11, Status: model.ContributionStatusPending},
		}, nil)
		m.paymentGateway.On("STKPush", ctx, mock.Anything).Return(nil, gateway.ErrSTKRejected)
		m.contributionRepo.On("UpdateStatusByIDs", ctx, []int64{11}, model.ContributionStatusFailed).Return(int64(1), nil)

		_, err := svc.Create(ctx, mpesaRequest())
		assert.ErrorIs(t, err, ErrPaymentInitiation)

		m.contributionRepo.AssertExpectations(t)
		m.paymentRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("guest member created for unknown phone", func(t *testing.T) {
		svc, m := newContributionService()
		guest := &model.Member{ID: 9, FirstName: "Guest", LastName: "Member", PhoneNumber: "254712345678", IsGuest: true, IsActive: true}

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(nil, repository.ErrMemberNotFound)
		m.memberRepo.On("CreateGuest", ctx, "254712345678", "Neema", "Njoroge").Return(guest, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Return([]*model.Contribution{{ID: 12}}, nil)
		m.paymentGateway.On("STKPush", ctx, mock.Anything).Return(&gateway.STKPushResponse{
			CheckoutRequestID: "ws_CO_0002",
			ResponseCode:      "0",
		}, nil)
		m.paymentRepo.On("Create", ctx, mock.Anything).Return(&model.PaymentTransaction{ID: 6}, nil)
		m.contributionRepo.On("LinkPaymentTransaction", ctx, []int64{12}, int64(6)).Return(nil)

		req := mpesaRequest()
		req.FirstName = "Neema"
		req.LastName = "Njoroge"
		result, err := svc.Create(ctx, req)
		require.NoError(t, err)
		assert.True(t, result.Member.IsGuest)
		m.memberRepo.AssertExpectations(t)
	})

	t.Run("multi category uses shared group and MULTI reference", func(t *testing.T) {
		svc, m := newContributionService()
		member := activeMember()
		offering := &model.ContributionCategory{ID: 2, Name: "Offering", Code: "OFFERING", IsActive: true}

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.categoryRepo.On("GetByCode", ctx, "OFFERING").Return(offering, nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)

		var batch []*model.Contribution
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Run(func(args mock.Arguments) {
			batch = args.Get(1).([]*model.Contribution)
		}).Return([]*model.Contribution{{ID: 21}, {ID: 22}}, nil)
		m.paymentGateway.On("STKPush", ctx, mock.MatchedBy(func(req *gateway.STKPushRequest) bool {
			return req.AccountReference == "MULTI" && req.AmountCents == 250000
		})).Return(&gateway.STKPushResponse{CheckoutRequestID: "ws_CO_0003", ResponseCode: "0"}, nil)
		m.paymentRepo.On("Create", ctx, mock.Anything).Return(&model.PaymentTransaction{ID: 8}, nil)
		m.contributionRepo.On("LinkPaymentTransaction", ctx, []int64{21, 22}, int64(8)).Return(nil)

		req := mpesaRequest()
		req.Entries = []model.ContributionEntry{
			{CategoryCode: "TITHE", AmountCents: 150000},
			{CategoryCode: "OFFERING", AmountCents: 100000},
		}
		_, err := svc.Create(ctx, req)
		require.NoError(t, err)

		require.Len(t, batch, 2)
		require.NotNil(t, batch[0].GroupID)
		require.NotNil(t, batch[1].GroupID)
		assert.Equal(t, *batch[0].GroupID, *batch[1].GroupID)
	})
}

func TestContributionService_Create_Manual(t *testing.T) {
	ctx := context.Background()

	t.Run("completed immediately and receipt enqueued", func(t *testing.T) {
		svc, m := newContributionService()
		member := activeMember()

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)
		m.contributionRepo.On("ReceiptNumberExists", ctx, mock.Anything).Return(false, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)

		var batch []*model.Contribution
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Run(func(args mock.Arguments) {
			batch = args.Get(1).([]*model.Contribution)
		}).Return([]*model.Contribution{{ID: 31, Status: model.ContributionStatusCompleted}}, nil)

		var job model.ReceiptJob
		m.receiptQueue.On("PublishJSON", ctx, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			job = args.Get(1).(model.ReceiptJob)
		}).Return("1-0", nil)

		req := mpesaRequest()
		req.EntryType = model.EntryTypeCash
		result, err := svc.Create(ctx, req)
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(result.ReceiptNumber, "MAN-"))
		assert.Nil(t, result.Payment)

		require.Len(t, batch, 1)
		assert.Equal(t, model.ContributionStatusCompleted, batch[0].Status)
		require.NotNil(t, batch[0].ReceiptNumber)
		assert.Equal(t, result.ReceiptNumber, *batch[0].ReceiptNumber)
		assert.Nil(t, batch[0].GroupID)

		assert.Equal(t, result.ReceiptNumber, job.DedupeKey)
		assert.Equal(t, result.ReceiptNumber, job.ReceiptNumber)
		assert.Equal(t, int64(150000), job.TotalCents)
		require.Len(t, job.Lines, 1)
		assert.Equal(t, "Tithe", job.Lines[0].CategoryName)

		m.paymentGateway.AssertNotCalled(t, "STKPush", mock.Anything, mock.Anything)
	})

	t.Run("caller supplied receipt number is kept", func(t *testing.T) {
		svc, m := newContributionService()
		member := activeMember()
		receipt := "BOOK-0042"

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Return([]*model.Contribution{{ID: 32}}, nil)
		m.receiptQueue.On("PublishJSON", ctx, mock.Anything, mock.Anything).Return("1-0", nil)

		req := mpesaRequest()
		req.EntryType = model.EntryTypeEnvelope
		req.ReceiptNumber = &receipt
		result, err := svc.Create(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "BOOK-0042", result.ReceiptNumber)
		m.contributionRepo.AssertNotCalled(t, "ReceiptNumberExists", mock.Anything, mock.Anything)
	})

	t.Run("queue failure does not fail the contribution", func(t *testing.T) {
		svc, m := newContributionService()
		member := activeMember()

		m.categoryRepo.On("GetByCode", ctx, "TITHE").Return(titheCategory(), nil)
		m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)
		m.contributionRepo.On("ReceiptNumberExists", ctx, mock.Anything).Return(false, nil)
		m.txManager.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
		m.contributionRepo.On("CreateBatch", ctx, mock.Anything).Return([]*model.Contribution{{ID: 33}}, nil)
		m.receiptQueue.On("PublishJSON", ctx, mock.Anything, mock.Anything).Return("", assert.AnError)

		req := mpesaRequest()
		req.EntryType = model.EntryTypeCash
		_, err := svc.Create(ctx, req)
		assert.NoError(t, err)
	})
}

func TestContributionService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("phone filter is normalized", func(t *testing.T) {
		svc, m := newContributionService()
		normalized := "254712345678"
		m.contributionRepo.On("List", ctx, mock.MatchedBy(func(f model.ContributionFilter) bool {
			return f.PhoneNumber != nil && *f.PhoneNumber == normalized
		})).Return([]*model.Contribution{}, int64(0), nil)

		phone := "0712345678"
		_, _, err := svc.List(ctx, model.ContributionFilter{PhoneNumber: &phone})
		require.NoError(t, err)
		m.contributionRepo.AssertExpectations(t)
	})

	t.Run("invalid phone filter rejected", func(t *testing.T) {
		svc, _ := newContributionService()
		phone := "banana"
		_, _, err := svc.List(ctx, model.ContributionFilter{PhoneNumber: &phone})
		assert.ErrorIs(t, err, ErrInvalidPhone)
	})
}

func TestContributionService_LookupMember(t *testing.T) {
	ctx := context.Background()
	svc, m := newContributionService()

	member := activeMember()
	m.memberRepo.On("FindByPhone", ctx, "254712345678").Return(member, nil)

	found, err := svc.LookupMember(ctx, "+254712345678")
	require.NoError(t, err)
	assert.Equal(t, member.ID, found.ID)
}
