package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gateway "github.com/zawadi/giving-gateway/internal/gateways"
	"github.com/zawadi/giving-gateway/internal/handlers"
	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/internal/queue"
	"github.com/zawadi/giving-gateway/internal/repository"
	"github.com/zawadi/giving-gateway/internal/services"
	"github.com/zawadi/giving-gateway/pkg/pg"
	"github.com/zawadi/giving-gateway/pkg/redis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// stubPaymentGateway accepts every STK push and hands out sequential
// checkout request ids, standing in for the Daraja sandbox.
type stubPaymentGateway struct {
	pushes int
	fail   bool
}

func (g *stubPaymentGateway) STKPush(ctx context.Context, req *gateway.STKPushRequest) (*gateway.STKPushResponse, error) {
	if g.fail {
		return nil, gateway.ErrSTKRejected
	}
	g.pushes++
	return &gateway.STKPushResponse{
		MerchantRequestID:   fmt.Sprintf("29115-%d-1", g.pushes),
		CheckoutRequestID:   fmt.Sprintf("ws_CO_%04d", g.pushes),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

type TestEnvironment struct {
	DB                  *pg.DB
	Redis               *miniredis.Miniredis
	RedisAdapter        redis.RedisAdapter
	Queue               *queue.Queue
	Gateway             *stubPaymentGateway
	MemberRepo          *repository.MemberRepository
	CategoryRepo        *repository.CategoryRepository
	ContributionRepo    *repository.ContributionRepository
	PaymentRepo         *repository.PaymentRepository
	ContributionService *services.ContributionService
	PaymentService      *services.PaymentService
	ContributionHandler *handlers.ContributionHandler
	CallbackHandler     *handlers.CallbackHandler
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.MemberEntity{},
		&repository.CategoryEntity{},
		&repository.ContributionEntity{},
		&repository.PaymentTransactionEntity{},
		&repository.ReceiptLogEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	q, err := queue.NewQueue(redisAdapter, queue.QueueConfig{
		Name:              "test:receipts",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)

	memberRepo := repository.NewMemberRepository(pgDB)
	categoryRepo := repository.NewCategoryRepository(pgDB)
	contributionRepo := repository.NewContributionRepository(pgDB)
	paymentRepo := repository.NewPaymentRepository(pgDB)

	stub := &stubPaymentGateway{}

	contributionService := services.NewContributionService(
		contributionRepo, memberRepo, categoryRepo, paymentRepo,
		pgDB, stub, q, 100, 10,
	)
	paymentService := services.NewPaymentService(paymentRepo, contributionRepo, memberRepo, categoryRepo, q)

	return &TestEnvironment{
		DB:                  pgDB,
		Redis:               mr,
		RedisAdapter:        redisAdapter,
		Queue:               q,
		Gateway:             stub,
		MemberRepo:          memberRepo,
		CategoryRepo:        categoryRepo,
		ContributionRepo:    contributionRepo,
		PaymentRepo:         paymentRepo,
		ContributionService: contributionService,
		PaymentService:      paymentService,
		ContributionHandler: handlers.NewContributionHandler(contributionService),
		CallbackHandler:     handlers.NewCallbackHandler(paymentService),
	}
}

func (env *TestEnvironment) Cleanup() {
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	time.Sleep(100 * time.Millisecond)
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) seed(t *testing.T) (*repository.MemberEntity, *repository.CategoryEntity, *repository.CategoryEntity) {
	ctx := context.Background()

	member := &repository.MemberEntity{
		FirstName:   "Wanjiku",
		LastName:    "Kamau",
		PhoneNumber: "254712345678",
		IsActive:    true,
	}
	require.NoError(t, env.DB.Write(ctx).Create(member).Error)

	tithe := &repository.CategoryEntity{Name: "Tithe", Code: "TITHE", IsActive: true}
	require.NoError(t, env.DB.Write(ctx).Create(tithe).Error)

	offering := &repository.CategoryEntity{Name: "Offering", Code: "OFFERING", IsActive: true}
	require.NoError(t, env.DB.Write(ctx).Create(offering).Error)

	return member, tithe, offering
}

func TestE2E_MpesaContributionLifecycle(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	member, _, _ := env.seed(t)

	req := model.ContributionCreateRequest{
		PhoneNumber: "0712345678",
		EntryType:   model.EntryTypeMpesa,
		Entries: []model.ContributionEntry{
			{CategoryCode: "TITHE", AmountCents: 100000},
			{CategoryCode: "OFFERING", AmountCents: 50000},
		},
	}

	result, err := env.ContributionService.Create(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	require.Len(t, result.Contributions, 2)
	assert.Equal(t, member.ID, result.Member.ID)

	// Rows are committed pending before the callback can arrive.
	for _, c := range result.Contributions {
		assert.Equal(t, model.ContributionStatusPending, c.Status)
		require.NotNil(t, c.PaymentTransactionID)
		assert.Equal(t, result.Payment.ID, *c.PaymentTransactionID)
	}
	assert.NotNil(t, result.Contributions[0].GroupID)
	assert.Equal(t, *result.Contributions[0].GroupID, *result.Contributions[1].GroupID)

	txDate := time.Date(2026, 8, 28, 12, 30, 0, 0, time.UTC)
	err = env.PaymentService.ProcessCallback(ctx, services.PaymentCallback{
		CheckoutRequestID:  result.Payment.CheckoutRequestID,
		MerchantRequestID:  result.Payment.MerchantRequestID,
		ResultCode:         0,
		ResultDesc:         "The service request is processed successfully.",
		AmountCents:        150000,
		MpesaReceiptNumber: "NLJ7RT61SV",
		PhoneNumber:        "254712345678",
		TransactionDate:    &txDate,
	})
	require.NoError(t, err)

	payment, err := env.PaymentRepo.GetByCheckoutRequestID(ctx, result.Payment.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSuccess, payment.Status)
	require.NotNil(t, payment.MpesaReceiptNumber)
	assert.Equal(t, "NLJ7RT61SV", *payment.MpesaReceiptNumber)

	contributions, _, err := env.ContributionRepo.List(ctx, model.ContributionFilter{MemberID: &member.ID})
	require.NoError(t, err)
	require.Len(t, contributions, 2)
	for _, c := range contributions {
		assert.Equal(t, model.ContributionStatusCompleted, c.Status)
	}

	// One combined receipt for the whole submission.
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMessages)
}

func TestE2E_DuplicateCallbackIsIgnored(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seed(t)

	result, err := env.ContributionService.Create(ctx, model.ContributionCreateRequest{
		PhoneNumber: "0712345678",
		EntryType:   model.EntryTypeMpesa,
		Entries:     []model.ContributionEntry{{CategoryCode: "TITHE", AmountCents: 100000}},
	})
	require.NoError(t, err)

	txDate := time.Now().UTC().Truncate(time.Second)
	cb := services.PaymentCallback{
		CheckoutRequestID:  result.Payment.CheckoutRequestID,
		ResultCode:         0,
		ResultDesc:         "The service request is processed successfully.",
		MpesaReceiptNumber: "NLJ7RT61SV",
		TransactionDate:    &txDate,
	}

	require.NoError(t, env.PaymentService.ProcessCallback(ctx, cb))

	// Replay: a late failure callback must not re-open the transaction.
	cb.ResultCode = 1
	cb.ResultDesc = "The balance is insufficient for the transaction"
	cb.MpesaReceiptNumber = ""
	require.NoError(t, env.PaymentService.ProcessCallback(ctx, cb))

	payment, err := env.PaymentRepo.GetByCheckoutRequestID(ctx, result.Payment.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSuccess, payment.Status)
	assert.Equal(t, "0", payment.ResultCode)

	// Only the winning callback enqueued a receipt.
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMessages)
}

func TestE2E_CancelledPaymentFailsContributions(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	member, _, _ := env.seed(t)

	result, err := env.ContributionService.Create(ctx, model.ContributionCreateRequest{
		PhoneNumber: "0712345678",
		EntryType:   model.EntryTypeMpesa,
		Entries:     []model.ContributionEntry{{CategoryCode: "TITHE", AmountCents: 100000}},
	})
	require.NoError(t, err)

	err = env.PaymentService.ProcessCallback(ctx, services.PaymentCallback{
		CheckoutRequestID: result.Payment.CheckoutRequestID,
		ResultCode:        1032,
		ResultDesc:        "Request cancelled by user",
	})
	require.NoError(t, err)

	contributions, _, err := env.ContributionRepo.List(ctx, model.ContributionFilter{MemberID: &member.ID})
	require.NoError(t, err)
	require.Len(t, contributions, 1)
	assert.Equal(t, model.ContributionStatusFailed, contributions[0].Status)

	// No receipt for a failed payment.
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalMessages)
}

func TestE2E_STKRejectionFailsFreshRows(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	member, _, _ := env.seed(t)
	env.Gateway.fail = true

	_, err := env.ContributionService.Create(ctx, model.ContributionCreateRequest{
		PhoneNumber: "0712345678",
		EntryType:   model.EntryTypeMpesa,
		Entries:     []model.ContributionEntry{{CategoryCode: "TITHE", AmountCents: 100000}},
	})
	assert.ErrorIs(t, err, services.ErrPaymentInitiation)

	contributions, _, err := env.ContributionRepo.List(ctx, model.ContributionFilter{MemberID: &member.ID})
	require.NoError(t, err)
	require.Len(t, contributions, 1)
	assert.Equal(t, model.ContributionStatusFailed, contributions[0].Status)
}

func TestE2E_ManualContributionDispatchesReceipt(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	member, _, _ := env.seed(t)

	result, err := env.ContributionService.Create(ctx, model.ContributionCreateRequest{
		PhoneNumber: "0712345678",
		EntryType:   model.EntryTypeCash,
		Entries:     []model.ContributionEntry{{CategoryCode: "OFFERING", AmountCents: 50000}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.ReceiptNumber, "MAN-"))
	assert.Nil(t, result.Payment)

	contributions, _, err := env.ContributionRepo.List(ctx, model.ContributionFilter{MemberID: &member.ID})
	require.NoError(t, err)
	require.Len(t, contributions, 1)
	assert.Equal(t, model.ContributionStatusCompleted, contributions[0].Status)

	received := make(chan model.ReceiptJob, 1)
	handler := func(ctx context.Context, qMsg *queue.Message) error {
		var job model.ReceiptJob
		if err := json.Unmarshal(qMsg.Data, &job); err != nil {
			return err
		}
		received <- job
		return nil
	}

	require.NoError(t, env.Queue.Consume(handler))

	select {
	case job := <-received:
		assert.Equal(t, result.ReceiptNumber, job.DedupeKey)
		assert.Equal(t, "254712345678", job.PhoneNumber)
		assert.Equal(t, "Wanjiku Kamau", job.MemberName)
		assert.Equal(t, int64(50000), job.TotalCents)
		require.Len(t, job.Lines, 1)
		assert.Equal(t, "Offering", job.Lines[0].CategoryName)
	case <-time.After(3 * time.Second):
		t.Fatal("receipt job not consumed within timeout")
	}
}

func TestE2E_GuestMemberIsCreatedOnFirstContribution(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.seed(t)

	result, err := env.ContributionService.Create(ctx, model.ContributionCreateRequest{
		PhoneNumber: "0798765432",
		EntryType:   model.EntryTypeCash,
		FirstName:   "Njeri",
		Entries:     []model.ContributionEntry{{CategoryCode: "TITHE", AmountCents: 20000}},
	})
	require.NoError(t, err)
	assert.True(t, result.Member.IsGuest)
	assert.Equal(t, "Njeri", result.Member.FirstName)
	assert.Equal(t, "254798765432", result.Member.PhoneNumber)

	// The same phone keeps resolving to the same member.
	again, err := env.ContributionService.LookupMember(ctx, "+254 798 765 432")
	require.NoError(t, err)
	assert.Equal(t, result.Member.ID, again.ID)
}

func TestE2E_ListContributions(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	member, _, _ := env.seed(t)

	for i := 0; i < 5; i++ {
		_, err := env.ContributionService.Create(ctx, model.ContributionCreateRequest{
			PhoneNumber: "0712345678",
			EntryType:   model.EntryTypeCash,
			Entries:     []model.ContributionEntry{{CategoryCode: "TITHE", AmountCents: int64(10000 * (i + 1))}},
		})
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}

	items, total, err := env.ContributionService.List(ctx, model.ContributionFilter{
		MemberID: &member.ID,
		Limit:    10,
		Offset:   0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 5)

	// Phone filter is normalized before hitting the repository.
	phone := "0712345678"
	items, total, err = env.ContributionService.List(ctx, model.ContributionFilter{
		PhoneNumber: &phone,
		Limit:       2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 2)
}
