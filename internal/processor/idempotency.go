package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zawadi/giving-gateway/pkg/logger"
	"github.com/zawadi/giving-gateway/pkg/redis"
)

var (
	ErrAlreadySent        = errors.New("receipt already sent")
	ErrLockAcquireFailed  = errors.New("failed to acquire dispatch lock")
	ErrMaxRetriesExceeded = errors.New("maximum dispatch retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	SentTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	SentKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:        30 * time.Second,
		SentTTL:        24 * time.Hour,
		MaxRetries:     3,
		RetryKeyPrefix: "receipt:retry:",
		LockKeyPrefix:  "receipt:lock:",
		SentKeyPrefix:  "receipt:sent:",
	}
}

// IdempotencyService guarantees at most one SMS per dedupe key. A sent
// marker blocks replays for SentTTL, a short lock blocks concurrent
// consumers, and a retry counter caps how often a failing send is retried.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type DispatchContext struct {
	DedupeKey    string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquireDispatchLock(ctx context.Context, dedupeKey string) (*DispatchContext, error) {
	sentKey := s.config.SentKeyPrefix + dedupeKey
	exists, err := s.redis.Exist(sentKey)
	if err != nil {
		// A failed check is not a reason to block dispatch; a duplicate SMS
		// is cheaper than a missing one.
		logger.Warn("failed to check sent marker", "dedupe_key", dedupeKey, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadySent
	}

	retryKey := s.config.RetryKeyPrefix + dedupeKey
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		return nil, fmt.Errorf("%w: dedupe_key=%s, retries=%d", ErrMaxRetriesExceeded, dedupeKey, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + dedupeKey
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("dispatch lock acquired", "dedupe_key", dedupeKey, "retry_count", retryCount)

	return &DispatchContext{
		DedupeKey:    dedupeKey,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkSent(ctx context.Context, dc *DispatchContext) error {
	sentKey := s.config.SentKeyPrefix + dc.DedupeKey
	if err := s.redis.Set(sentKey, []byte("1"), s.config.SentTTL); err != nil {
		return fmt.Errorf("failed to set sent marker: %w", err)
	}

	s.cleanup(ctx, dc)

	logger.Info("receipt marked as sent", "dedupe_key", dc.DedupeKey, "retry_count", dc.RetryCount)
	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, dc *DispatchContext, reason error) error {
	retryKey := s.config.RetryKeyPrefix + dc.DedupeKey
	newRetryCount := dc.RetryCount + 1

	if err := s.redis.Set(retryKey, []byte(fmt.Sprintf("%d", newRetryCount)), s.config.SentTTL); err != nil {
		logger.Error("failed to increment retry counter", "dedupe_key", dc.DedupeKey, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + dc.DedupeKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to remove dispatch lock", "dedupe_key", dc.DedupeKey, "error", err)
	}

	logger.Warn("receipt dispatch failed, will retry",
		"dedupe_key", dc.DedupeKey,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, dc *DispatchContext) error {
	if dc == nil || !dc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + dc.DedupeKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to release dispatch lock", "dedupe_key", dc.DedupeKey, "error", err)
		return err
	}

	dc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, dc *DispatchContext) {
	lockKey := s.config.LockKeyPrefix + dc.DedupeKey
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to cleanup dispatch lock", "dedupe_key", dc.DedupeKey, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + dc.DedupeKey
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("failed to cleanup retry counter", "dedupe_key", dc.DedupeKey, "error", err)
	}

	dc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, dedupeKey string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + dedupeKey
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsSent(ctx context.Context, dedupeKey string) (bool, error) {
	sentKey := s.config.SentKeyPrefix + dedupeKey
	exists, err := s.redis.Exist(sentKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
