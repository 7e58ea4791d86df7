package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fasthttp/router"
	"github.com/zawadi/giving-gateway/internal/model"
	"github.com/zawadi/giving-gateway/internal/repository"
	"github.com/zawadi/giving-gateway/internal/services"
	xhttp "github.com/zawadi/giving-gateway/pkg/http"
)

type ContributionService interface {
	Create(ctx context.Context, req model.ContributionCreateRequest) (*services.ContributionResult, error)
	List(ctx context.Context, f model.ContributionFilter) ([]*model.Contribution, int64, error)
	ListCategories(ctx context.Context, activeOnly bool) ([]*model.ContributionCategory, error)
	LookupMember(ctx context.Context, phoneNumber string) (*model.Member, error)
}

type ContributionHandler struct {
	svc ContributionService
}

func RegisterContributionRoutes(e *router.Group, h *ContributionHandler) {
	e.POST("/contributions", h.CreateContribution)
	e.GET("/contributions", h.ListContributions)
	e.GET("/categories", h.ListCategories)
	e.GET("/members/lookup", h.LookupMember)
}

func NewContributionHandler(svc ContributionService) *ContributionHandler {
	return &ContributionHandler{svc: svc}
}

type listResponse struct {
	Items []*model.Contribution `json:"items"`
	Total int64                 `json:"total"`
}

type categoryListResponse struct {
	Items []*model.ContributionCategory `json:"items"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *ContributionHandler) CreateContribution(ctx *xhttp.RequestCtx) {
	var req model.ContributionCreateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	result, err := h.svc.Create(ctx, req)
	if err != nil {
		writeError(ctx, statusForError(err), err.Error())
		return
	}
	writeJSON(ctx, 201, result)
}

func (h *ContributionHandler) ListContributions(ctx *xhttp.RequestCtx) {
	var f model.ContributionFilter

	if v := query(ctx, "member_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.MemberID = &id
		}
	}
	if v := query(ctx, "phone"); v != "" {
		f.PhoneNumber = &v
	}
	if v := query(ctx, "category"); v != "" {
		f.CategoryCode = &v
	}
	if v := query(ctx, "group_id"); v != "" {
		f.GroupID = &v
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.ContributionStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, statusForError(err), err.Error())
		return
	}
	writeJSON(ctx, 200, listResponse{Items: items, Total: total})
}

func (h *ContributionHandler) ListCategories(ctx *xhttp.RequestCtx) {
	activeOnly := true
	if strings.EqualFold(query(ctx, "include_inactive"), "true") {
		activeOnly = false
	}

	items, err := h.svc.ListCategories(ctx, activeOnly)
	if err != nil {
		writeError(ctx, 500, err.Error())
		return
	}
	writeJSON(ctx, 200, categoryListResponse{Items: items})
}

func (h *ContributionHandler) LookupMember(ctx *xhttp.RequestCtx) {
	phone := query(ctx, "phone")
	if phone == "" {
		writeError(ctx, 400, "phone query parameter is required")
		return
	}

	member, err := h.svc.LookupMember(ctx, phone)
	if err != nil {
		writeError(ctx, statusForError(err), err.Error())
		return
	}
	writeJSON(ctx, 200, member)
}

// statusForError maps service sentinels onto HTTP statuses. Anything
// unrecognized is a client error, matching how the API treats bad input.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrCategoryNotFound),
		errors.Is(err, repository.ErrMemberNotFound):
		return 404
	case errors.Is(err, services.ErrPaymentInitiation):
		return 502
	default:
		return 400
	}
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
