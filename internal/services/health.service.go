package services

import (
	"context"
	"time"

	"github.com/zawadi/giving-gateway/pkg/pg"
	"github.com/zawadi/giving-gateway/pkg/redis"
)

type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type HealthService struct {
	db      *pg.DB
	adapter redis.RedisAdapter
}

func NewHealthService(db *pg.DB, adapter redis.RedisAdapter) *HealthService {
	return &HealthService{
		db:      db,
		adapter: adapter,
	}
}

func (s *HealthService) Check(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "healthy",
		Checks: make(map[string]string),
	}

	if s.db != nil {
		var one int
		if err := s.db.Read(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
			status.Checks["database"] = "unhealthy: " + err.Error()
			status.Status = "unhealthy"
		} else {
			status.Checks["database"] = "healthy"
		}
	}

	if s.adapter != nil {
		if err := s.adapter.Client().Ping(ctx).Err(); err != nil {
			status.Checks["redis"] = "unhealthy: " + err.Error()
			status.Status = "unhealthy"
		} else {
			status.Checks["redis"] = "healthy"
		}
	}

	return status
}
