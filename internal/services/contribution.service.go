package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gateway "github.com/zawadi/giving-gateway/internal/gateways"
	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/internal/repository"
	"github.com/zawadi/giving-gateway/pkg/logger"
)

var (
	ErrInvalidPhone       = errors.New("invalid phone number")
	ErrCategoryNotFound   = errors.New("contribution category not found")
	ErrInactiveCategory   = errors.New("contribution category is not active")
	ErrBelowMinimumAmount = errors.New("amount is below the minimum contribution")
	ErrTooManyCategories  = errors.New("too many categories in one submission")
	ErrDuplicateCategory  = errors.New("duplicate category in one submission")
	ErrPaymentInitiation  = errors.New("payment collection request was rejected")
)

type ContributionRepository interface {
	CreateBatch(ctx context.Context, contributions []*model.Contribution) ([]*model.Contribution, error)
	List(ctx context.Context, f model.ContributionFilter) ([]*model.Contribution, int64, error)
	UpdateStatusByIDs(ctx context.Context, ids []int64, status model.ContributionStatus) (int64, error)
	LinkPaymentTransaction(ctx context.Context, ids []int64, paymentTransactionID int64) error
	ReceiptNumberExists(ctx context.Context, receiptNumber string) (bool, error)
}

type MemberRepository interface {
	FindByPhone(ctx context.Context, phoneNumber string) (*model.Member, error)
	CreateGuest(ctx context.Context, phoneNumber, firstName, lastName string) (*model.Member, error)
}

type CategoryRepository interface {
	GetByCode(ctx context.Context, code string) (*model.ContributionCategory, error)
	List(ctx context.Context, activeOnly bool) ([]*model.ContributionCategory, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *model.PaymentTransaction) (*model.PaymentTransaction, error)
}

// TransactionManager runs fn inside one database transaction.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// PaymentGateway starts an STK push collection request.
type PaymentGateway interface {
	STKPush(ctx context.Context, req *gateway.STKPushRequest) (*gateway.STKPushResponse, error)
}

// ReceiptPublisher enqueues receipt jobs for the dispatcher.
type ReceiptPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

// ContributionResult is what InitiateContribution hands back to the API:
// the created rows plus, for the M-Pesa path, the transaction the caller
// should poll or wait on.
type ContributionResult struct {
	Contributions []*model.Contribution     `json:"contributions"`
	Member        *model.Member             `json:"member"`
	Payment       *model.PaymentTransaction `json:"payment,omitempty"`
	CustomerMsg   string                    `json:"customer_message,omitempty"`
	ReceiptNumber string                    `json:"receipt_number,omitempty"`
}

type ContributionService struct {
	contributionRepo ContributionRepository
	memberRepo       MemberRepository
	categoryRepo     CategoryRepository
	paymentRepo      PaymentRepository
	txManager        TransactionManager
	paymentGateway   PaymentGateway
	receiptQueue     ReceiptPublisher
	minAmountCents   int64
	maxCategories    int
	now              func() time.Time
}

func NewContributionService(
	contributionRepo ContributionRepository,
	memberRepo MemberRepository,
	categoryRepo CategoryRepository,
	paymentRepo PaymentRepository,
	txManager TransactionManager,
	paymentGateway PaymentGateway,
	receiptQueue ReceiptPublisher,
	minAmountCents int64,
	maxCategories int,
) *ContributionService {
	return &ContributionService{
		contributionRepo: contributionRepo,
		memberRepo:       memberRepo,
		categoryRepo:     categoryRepo,
		paymentRepo:      paymentRepo,
		txManager:        txManager,
		paymentGateway:   paymentGateway,
		receiptQueue:     receiptQueue,
		minAmountCents:   minAmountCents,
		maxCategories:    maxCategories,
		now:              time.Now,
	}
}

// Create initiates a contribution. For M-Pesa entries the rows are created
// pending and the STK push goes out after they are committed, so the
// callback can never arrive for rows that do not exist yet. Manual entries
// are completed immediately and a receipt is dispatched right away.
func (s *ContributionService) Create(ctx context.Context, req model.ContributionCreateRequest) (*ContributionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	phone, err := model.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, ErrInvalidPhone
	}

	if s.maxCategories > 0 && len(req.Entries) > s.maxCategories {
		return nil, ErrTooManyCategories
	}

	seen := make(map[string]struct{}, len(req.Entries))
	for _, e := range req.Entries {
		if e.AmountCents < s.minAmountCents {
			return nil, ErrBelowMinimumAmount
		}
		code := strings.ToUpper(strings.TrimSpace(e.CategoryCode))
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCategory, e.CategoryCode)
		}
		seen[code] = struct{}{}
	}

	categories, err := s.resolveCategories(ctx, req.Entries)
	if err != nil {
		return nil, err
	}

	member, err := s.memberRepo.FindByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, repository.ErrMemberNotFound) {
			return nil, fmt.Errorf("lookup member: %w", err)
		}
		member, err = s.memberRepo.CreateGuest(ctx, phone, req.FirstName, req.LastName)
		if err != nil {
			return nil, fmt.Errorf("create guest member: %w", err)
		}
	}

	if req.EntryType.IsManual() {
		return s.createManual(ctx, req, member, categories)
	}
	return s.createMpesa(ctx, req, member, categories)
}

func (s *ContributionService) createMpesa(ctx context.Context, req model.ContributionCreateRequest, member *model.Member, categories []*model.ContributionCategory) (*ContributionResult, error) {
	txDate := s.now()
	rows := s.buildRows(req, member, categories, model.ContributionStatusPending, txDate)

	var created []*model.Contribution
	err := s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.contributionRepo.CreateBatch(ctx, rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create contributions: %w", err)
	}

	ids := contributionIDs(created)
	accountRef := categories[0].Code
	description := "Contribution"
	if len(categories) > 1 {
		accountRef = "MULTI"
		description = fmt.Sprintf("Contribution (%d categories)", len(categories))
	}

	stkResp, err := s.paymentGateway.STKPush(ctx, &gateway.STKPushRequest{
		PhoneNumber:      member.PhoneNumber,
		AmountCents:      req.TotalCents(),
		AccountReference: accountRef,
		Description:      description,
	})
	if err != nil {
		if _, failErr := s.contributionRepo.UpdateStatusByIDs(ctx, ids, model.ContributionStatusFailed); failErr != nil {
			logger.Error("failed to mark rejected contributions as failed", "error", failErr, "ids", ids)
		}
		if errors.Is(err, gateway.ErrSTKRejected) {
			return nil, ErrPaymentInitiation
		}
		return nil, fmt.Errorf("stk push: %w", err)
	}

	payment, err := s.paymentRepo.Create(ctx, &model.PaymentTransaction{
		MerchantRequestID: stkResp.MerchantRequestID,
		CheckoutRequestID: stkResp.CheckoutRequestID,
		PhoneNumber:       member.PhoneNumber,
		AmountCents:       req.TotalCents(),
		AccountReference:  accountRef,
		Description:       description,
		Status:            model.PaymentStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment transaction: %w", err)
	}

	if err := s.contributionRepo.LinkPaymentTransaction(ctx, ids, payment.ID); err != nil {
		return nil, fmt.Errorf("link payment transaction: %w", err)
	}
	for _, c := range created {
		id := payment.ID
		c.PaymentTransactionID = &id
	}

	logger.Info("contribution initiated",
		"member_id", member.ID,
		"checkout_request_id", payment.CheckoutRequestID,
		"total_cents", req.TotalCents(),
		"entries", len(created))

	return &ContributionResult{
		Contributions: created,
		Member:        member,
		Payment:       payment,
		CustomerMsg:   stkResp.CustomerMessage,
	}, nil
}

func (s *ContributionService) createManual(ctx context.Context, req model.ContributionCreateRequest, member *model.Member, categories []*model.ContributionCategory) (*ContributionResult, error) {
	txDate := s.now()
	if req.TransactionDate != nil {
		txDate = *req.TransactionDate
	}

	receiptNumber := ""
	if req.ReceiptNumber != nil && *req.ReceiptNumber != "" {
		receiptNumber = *req.ReceiptNumber
	} else {
		var err error
		receiptNumber, err = s.generateReceiptNumber(ctx, txDate)
		if err != nil {
			return nil, fmt.Errorf("generate receipt number: %w", err)
		}
	}

	rows := s.buildRows(req, member, categories, model.ContributionStatusCompleted, txDate)
	// The receipt number identifies the submission, so only the first row
	// carries it; the unique index would reject duplicates anyway.
	rows[0].ReceiptNumber = &receiptNumber

	var created []*model.Contribution
	err := s.txManager.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.contributionRepo.CreateBatch(ctx, rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create contributions: %w", err)
	}

	s.enqueueReceipt(ctx, receiptNumber, member, req.Entries, categories, req.TotalCents(), receiptNumber, txDate)

	logger.Info("manual contribution recorded",
		"member_id", member.ID,
		"receipt_number", receiptNumber,
		"total_cents", req.TotalCents(),
		"entries", len(created))

	return &ContributionResult{
		Contributions: created,
		Member:        member,
		ReceiptNumber: receiptNumber,
	}, nil
}

func (s *ContributionService) buildRows(req model.ContributionCreateRequest, member *model.Member, categories []*model.ContributionCategory, status model.ContributionStatus, txDate time.Time) []*model.Contribution {
	var groupID *string
	if len(req.Entries) > 1 {
		id := uuid.NewString()
		groupID = &id
	}

	rows := make([]*model.Contribution, len(req.Entries))
	for i, e := range req.Entries {
		rows[i] = &model.Contribution{
			MemberID:        member.ID,
			CategoryID:      categories[i].ID,
			GroupID:         groupID,
			AmountCents:     e.AmountCents,
			Status:          status,
			EntryType:       req.EntryType,
			TransactionDate: txDate,
			Notes:           req.Notes,
		}
	}
	return rows
}

// resolveCategories maps entry codes to categories, in entry order.
func (s *ContributionService) resolveCategories(ctx context.Context, entries []model.ContributionEntry) ([]*model.ContributionCategory, error) {
	categories := make([]*model.ContributionCategory, len(entries))
	for i, e := range entries {
		category, err := s.categoryRepo.GetByCode(ctx, strings.ToUpper(strings.TrimSpace(e.CategoryCode)))
		if err != nil {
			if errors.Is(err, repository.ErrCategoryNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrCategoryNotFound, e.CategoryCode)
			}
			return nil, fmt.Errorf("lookup category: %w", err)
		}
		if !category.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrInactiveCategory, category.Code)
		}
		categories[i] = category
	}
	return categories, nil
}

const receiptNumberAttempts = 5

func (s *ContributionService) generateReceiptNumber(ctx context.Context, txDate time.Time) (string, error) {
	for attempt := 0; attempt < receiptNumberAttempts; attempt++ {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		candidate := fmt.Sprintf("MAN-%s-%s", txDate.Format("20060102"), strings.ToUpper(hex.EncodeToString(buf)))

		exists, err := s.contributionRepo.ReceiptNumberExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("could not generate a unique receipt number")
}

// enqueueReceipt is fire and forget. A queue outage must not fail the
// contribution, the dispatcher audit log is where missed receipts show up.
func (s *ContributionService) enqueueReceipt(ctx context.Context, dedupeKey string, member *model.Member, entries []model.ContributionEntry, categories []*model.ContributionCategory, totalCents int64, receiptNumber string, txDate time.Time) {
	if s.receiptQueue == nil {
		return
	}

	lines := make([]model.ReceiptLine, len(entries))
	for i, e := range entries {
		lines[i] = model.ReceiptLine{
			CategoryName: categories[i].Name,
			AmountCents:  e.AmountCents,
		}
	}

	job := model.ReceiptJob{
		DedupeKey:       dedupeKey,
		PhoneNumber:     member.PhoneNumber,
		MemberName:      member.FullName(),
		Lines:           lines,
		TotalCents:      totalCents,
		ReceiptNumber:   receiptNumber,
		TransactionDate: txDate,
	}

	if _, err := s.receiptQueue.PublishJSON(ctx, job, nil); err != nil {
		logger.Error("failed to enqueue receipt", "error", err, "dedupe_key", dedupeKey)
	}
}

func (s *ContributionService) List(ctx context.Context, f model.ContributionFilter) ([]*model.Contribution, int64, error) {
	if f.PhoneNumber != nil && *f.PhoneNumber != "" {
		phone, err := model.NormalizePhone(*f.PhoneNumber)
		if err != nil {
			return nil, 0, ErrInvalidPhone
		}
		f.PhoneNumber = &phone
	}
	return s.contributionRepo.List(ctx, f)
}

func (s *ContributionService) ListCategories(ctx context.Context, activeOnly bool) ([]*model.ContributionCategory, error) {
	return s.categoryRepo.List(ctx, activeOnly)
}

func (s *ContributionService) LookupMember(ctx context.Context, phoneNumber string) (*model.Member, error) {
	phone, err := model.NormalizePhone(phoneNumber)
	if err != nil {
		return nil, ErrInvalidPhone
	}
	return s.memberRepo.FindByPhone(ctx, phone)
}

func contributionIDs(contributions []*model.Contribution) []int64 {
	ids := make([]int64, len(contributions))
	for i, c := range contributions {
		ids[i] = c.ID
	}
	return ids
}
