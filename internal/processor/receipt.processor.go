package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gateway "github.com/zawadi/giving-gateway/internal/gateways"
	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/internal/queue"
	"github.com/zawadi/giving-gateway/pkg/logger"
	"github.com/zawadi/giving-gateway/pkg/prom"
)

type SMSSender interface {
	Send(ctx context.Context, phoneNumber, message string) (*gateway.SMSResult, error)
}

type ReceiptLogRepository interface {
	Create(ctx context.Context, l *model.ReceiptLog) (*model.ReceiptLog, error)
}

type ReceiptProcessor struct {
	sender         SMSSender
	receiptLogRepo ReceiptLogRepository
	idempotency    *IdempotencyService
}

func NewReceiptProcessor(sender SMSSender, receiptLogRepo ReceiptLogRepository, idempotency *IdempotencyService) *ReceiptProcessor {
	return &ReceiptProcessor{
		sender:         sender,
		receiptLogRepo: receiptLogRepo,
		idempotency:    idempotency,
	}
}

func (p *ReceiptProcessor) GetType() string {
	return "receipt"
}

// Process delivers one receipt SMS with at-most-once semantics per dedupe
// key. Delivery failure is recorded in the audit log and retried from the
// queue; it never touches contribution state.
func (p *ReceiptProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var job model.ReceiptJob
	if err := json.Unmarshal(queueMessage.Data, &job); err != nil {
		logger.Error("failed to unmarshal receipt job", "error", err)
		return err // malformed payload goes to the DLQ
	}
	if job.DedupeKey == "" || job.PhoneNumber == "" {
		logger.Error("receipt job missing dedupe key or phone", "dedupe_key", job.DedupeKey)
		return errors.New("invalid receipt job")
	}

	dc, err := p.idempotency.AcquireDispatchLock(ctx, job.DedupeKey)
	if err != nil {
		if errors.Is(err, ErrAlreadySent) {
			logger.Info("receipt already sent, skipping", "dedupe_key", job.DedupeKey)
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("receipt dispatch retries exhausted", "dedupe_key", job.DedupeKey)
			p.logOutcome(ctx, &job, model.ReceiptLogStatusFailed, "", "retries exhausted")
			return nil // ack so the job lands in the DLQ path, not an endless loop
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("dispatch lock held by another consumer")
		}
		return err
	}

	defer func() {
		if dc.lockAcquired {
			p.idempotency.ReleaseLock(ctx, dc)
		}
	}()

	text := FormatReceiptMessage(&job)

	start := time.Now()
	result, err := p.sender.Send(ctx, job.PhoneNumber, text)
	prom.AddHistogramVec(prom.SystemReceipts, prom.MetricReceiptSendDuration, time.Since(start).Seconds(), receiptKind(&job))

	if err != nil {
		prom.IncCounter(prom.SystemReceipts, prom.MetricReceiptsFailedTotal)
		p.logOutcome(ctx, &job, model.ReceiptLogStatusFailed, "", err.Error())
		if markErr := p.idempotency.MarkFailure(ctx, dc, err); markErr != nil {
			logger.Error("failed to mark dispatch failure", "dedupe_key", job.DedupeKey, "error", markErr)
		}
		return err // retried from the queue
	}

	prom.IncCounter(prom.SystemReceipts, prom.MetricReceiptsSentTotal)
	p.logOutcome(ctx, &job, model.ReceiptLogStatusSent, result.MessageID, "")

	if markErr := p.idempotency.MarkSent(ctx, dc); markErr != nil {
		// The SMS went out; a failed marker only risks a duplicate later.
		logger.Error("failed to mark receipt as sent", "dedupe_key", job.DedupeKey, "error", markErr)
	}

	logger.Info("receipt dispatched",
		"dedupe_key", job.DedupeKey,
		"to", job.PhoneNumber,
		"provider_message_id", result.MessageID,
		"retry_count", dc.RetryCount)

	return nil
}

func (p *ReceiptProcessor) logOutcome(ctx context.Context, job *model.ReceiptJob, status model.ReceiptLogStatus, providerMessageID, errMsg string) {
	if p.receiptLogRepo == nil {
		return
	}
	_, err := p.receiptLogRepo.Create(ctx, &model.ReceiptLog{
		DedupeKey:         job.DedupeKey,
		PhoneNumber:       job.PhoneNumber,
		Status:            status,
		ProviderMessageID: providerMessageID,
		ErrorMessage:      errMsg,
	})
	if err != nil {
		logger.Error("failed to write receipt log", "dedupe_key", job.DedupeKey, "error", err)
	}
}

func receiptKind(job *model.ReceiptJob) string {
	if len(job.Lines) > 1 {
		return "combined"
	}
	return "single"
}

// FormatReceiptMessage renders the SMS text. Multi-category receipts list
// every line so a single text covers the whole submission.
func FormatReceiptMessage(job *model.ReceiptJob) string {
	var b strings.Builder

	name := job.MemberName
	if name == "" {
		name = "Member"
	}

	fmt.Fprintf(&b, "Dear %s, we have received %s", name, FormatKES(job.TotalCents))

	if len(job.Lines) == 1 {
		fmt.Fprintf(&b, " for %s", job.Lines[0].CategoryName)
	} else if len(job.Lines) > 1 {
		parts := make([]string, len(job.Lines))
		for i, line := range job.Lines {
			parts[i] = fmt.Sprintf("%s %s", line.CategoryName, FormatKES(line.AmountCents))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}

	fmt.Fprintf(&b, " on %s.", job.TransactionDate.Format("02 Jan 2006"))

	if job.ReceiptNumber != "" {
		fmt.Fprintf(&b, " Receipt: %s.", job.ReceiptNumber)
	}

	b.WriteString(" Thank you and God bless you.")

	return b.String()
}

// FormatKES renders cents as a shilling amount, always with two decimals.
func FormatKES(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sKES %d.%02d", sign, cents/100, cents%100)
}
