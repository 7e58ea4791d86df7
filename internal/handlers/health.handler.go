package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/zawadi/giving-gateway/internal/services"
	xhttp "github.com/zawadi/giving-gateway/pkg/http"
)

type HealthService interface {
	Check(ctx context.Context) services.HealthStatus
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	status := h.svc.Check(ctx)
	code := 200
	if status.Status != "healthy" {
		code = 503
	}
	writeJSON(ctx, code, status)
}
