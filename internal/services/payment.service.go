package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/internal/repository"
	"github.com/zawadi/giving-gateway/pkg/logger"
	"github.com/zawadi/giving-gateway/pkg/prom"
)

var (
	ErrUnknownTransaction = errors.New("unknown payment transaction")
)

// PaymentCallback is the normalized provider callback. The handler parses
// the wire format; the service only sees this.
type PaymentCallback struct {
	CheckoutRequestID  string
	MerchantRequestID  string
	ResultCode         int
	ResultDesc         string
	AmountCents        int64
	MpesaReceiptNumber string
	PhoneNumber        string
	TransactionDate    *time.Time
}

func (c PaymentCallback) Outcome() model.PaymentOutcome {
	switch c.ResultCode {
	case 0:
		return model.PaymentOutcomeSuccess
	case 1032:
		return model.PaymentOutcomeCancelled
	default:
		return model.PaymentOutcomeFailed
	}
}

type PaymentCallbackRepository interface {
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.PaymentTransaction, error)
	MarkTerminal(ctx context.Context, checkoutRequestID string, upd repository.TerminalUpdate) (bool, error)
}

type CallbackContributionRepository interface {
	GetByPaymentTransaction(ctx context.Context, paymentTransactionID int64) ([]*model.Contribution, error)
	UpdateStatusByPaymentTransaction(ctx context.Context, paymentTransactionID int64, status model.ContributionStatus, transactionDate *time.Time) (int64, error)
}

type CallbackMemberRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Member, error)
}

type CallbackCategoryRepository interface {
	GetByID(ctx context.Context, id int64) (*model.ContributionCategory, error)
}

type PaymentService struct {
	paymentRepo      PaymentCallbackRepository
	contributionRepo CallbackContributionRepository
	memberRepo       CallbackMemberRepository
	categoryRepo     CallbackCategoryRepository
	receiptQueue     ReceiptPublisher
}

func NewPaymentService(
	paymentRepo PaymentCallbackRepository,
	contributionRepo CallbackContributionRepository,
	memberRepo CallbackMemberRepository,
	categoryRepo CallbackCategoryRepository,
	receiptQueue ReceiptPublisher,
) *PaymentService {
	return &PaymentService{
		paymentRepo:      paymentRepo,
		contributionRepo: contributionRepo,
		memberRepo:       memberRepo,
		categoryRepo:     categoryRepo,
		receiptQueue:     receiptQueue,
	}
}

// ProcessCallback confirms or fails a pending collection. The terminal
// transition is a compare-and-set on the transaction row, so a replayed or
// concurrent duplicate callback observes false and stops without touching
// anything. Only the winning call moves the contributions and dispatches
// the receipt.
func (s *PaymentService) ProcessCallback(ctx context.Context, cb PaymentCallback) error {
	payment, err := s.paymentRepo.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			prom.IncCounterVec(prom.SystemPayments, prom.MetricPaymentCallbackTotal, "unknown", "rejected")
			return ErrUnknownTransaction
		}
		return fmt.Errorf("lookup payment: %w", err)
	}

	outcome := cb.Outcome()
	status := model.PaymentStatusFailed
	if outcome == model.PaymentOutcomeSuccess {
		status = model.PaymentStatusSuccess
	}

	upd := repository.TerminalUpdate{
		Status:          status,
		ResultCode:      fmt.Sprintf("%d", cb.ResultCode),
		ResultDesc:      cb.ResultDesc,
		TransactionDate: cb.TransactionDate,
	}
	if cb.MpesaReceiptNumber != "" {
		receipt := cb.MpesaReceiptNumber
		upd.MpesaReceiptNumber = &receipt
	}

	won, err := s.paymentRepo.MarkTerminal(ctx, cb.CheckoutRequestID, upd)
	if err != nil {
		return fmt.Errorf("mark payment terminal: %w", err)
	}
	if !won {
		logger.Info("duplicate payment callback ignored",
			"checkout_request_id", cb.CheckoutRequestID,
			"current_status", string(payment.Status))
		prom.IncCounterVec(prom.SystemPayments, prom.MetricPaymentCallbackTotal, "duplicate", string(outcome))
		return nil
	}

	contributionStatus := model.ContributionStatusFailed
	if status == model.PaymentStatusSuccess {
		contributionStatus = model.ContributionStatusCompleted
	}

	affected, err := s.contributionRepo.UpdateStatusByPaymentTransaction(ctx, payment.ID, contributionStatus, cb.TransactionDate)
	if err != nil {
		return fmt.Errorf("update contributions: %w", err)
	}

	logger.Info("payment callback processed",
		"checkout_request_id", cb.CheckoutRequestID,
		"outcome", string(outcome),
		"contributions_updated", affected)
	prom.IncCounterVec(prom.SystemPayments, prom.MetricPaymentCallbackTotal, "processed", string(outcome))

	if status == model.PaymentStatusSuccess {
		s.dispatchReceipt(ctx, payment, cb)
	}

	return nil
}

// dispatchReceipt builds one combined receipt for everything paid by this
// transaction. Failure here is logged, never surfaced: the money is already
// recorded and the provider must still get its acknowledgement.
func (s *PaymentService) dispatchReceipt(ctx context.Context, payment *model.PaymentTransaction, cb PaymentCallback) {
	if s.receiptQueue == nil {
		return
	}

	contributions, err := s.contributionRepo.GetByPaymentTransaction(ctx, payment.ID)
	if err != nil || len(contributions) == 0 {
		logger.Error("failed to load contributions for receipt", "error", err, "payment_id", payment.ID)
		return
	}

	member, err := s.memberRepo.GetByID(ctx, contributions[0].MemberID)
	if err != nil {
		logger.Error("failed to load member for receipt", "error", err, "member_id", contributions[0].MemberID)
		return
	}

	lines := make([]model.ReceiptLine, 0, len(contributions))
	var totalCents int64
	for _, c := range contributions {
		categoryName := "Contribution"
		if category, err := s.categoryRepo.GetByID(ctx, c.CategoryID); err == nil {
			categoryName = category.Name
		}
		lines = append(lines, model.ReceiptLine{
			CategoryName: categoryName,
			AmountCents:  c.AmountCents,
		})
		totalCents += c.AmountCents
	}

	txDate := time.Now()
	if cb.TransactionDate != nil {
		txDate = *cb.TransactionDate
	}

	job := model.ReceiptJob{
		DedupeKey:       payment.CheckoutRequestID,
		PhoneNumber:     member.PhoneNumber,
		MemberName:      member.FullName(),
		Lines:           lines,
		TotalCents:      totalCents,
		ReceiptNumber:   cb.MpesaReceiptNumber,
		TransactionDate: txDate,
	}

	if _, err := s.receiptQueue.PublishJSON(ctx, job, nil); err != nil {
		logger.Error("failed to enqueue receipt", "error", err, "checkout_request_id", payment.CheckoutRequestID)
	}
}
