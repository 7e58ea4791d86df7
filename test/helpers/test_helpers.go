package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/zawadi/giving-gateway/internal/repository"
	"github.com/zawadi/giving-gateway/pkg/pg"
	"github.com/zawadi/giving-gateway/pkg/redis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
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

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Unique connection name per test, the adapter caches by name.
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestMember(t *testing.T, db *pg.DB, phoneNumber, firstName, lastName string) *repository.MemberEntity {
	ctx := context.Background()
	member := &repository.MemberEntity{
		FirstName:   firstName,
		LastName:    lastName,
		PhoneNumber: phoneNumber,
		IsActive:    true,
	}
	err := db.Write(ctx).Create(member).Error
	require.NoError(t, err)
	return member
}

func CreateTestCategory(t *testing.T, db *pg.DB, name, code string, active bool) *repository.CategoryEntity {
	ctx := context.Background()
	category := &repository.CategoryEntity{
		Name:     name,
		Code:     code,
		IsActive: active,
	}
	err := db.Write(ctx).Create(category).Error
	require.NoError(t, err)
	return category
}

func CreateTestContribution(t *testing.T, db *pg.DB, memberID, categoryID, amountCents int64, status string) *repository.ContributionEntity {
	ctx := context.Background()
	contribution := &repository.ContributionEntity{
		MemberID:        memberID,
		CategoryID:      categoryID,
		AmountCents:     amountCents,
		Status:          status,
		EntryType:       "mpesa",
		TransactionDate: time.Now(),
	}
	err := db.Write(ctx).Create(contribution).Error
	require.NoError(t, err)
	return contribution
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
