package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

type cancellationSettingsRequest struct {
	Inherit            bool            `json:"inherit"`
	MinimumNoticeHours int32           `json:"minimumNoticeHours" validate:"gte=0"`
	ShortNoticeFine    decimal.Decimal `json:"shortNoticeFine"`
	InvalidReasonFine  decimal.Decimal `json:"invalidReasonFine"`
}

func (c *cancellationSettingsRequest) toDomain() *domain.CancellationSettings {
	if c == nil {
		return nil
	}
	return &domain.CancellationSettings{
		Inherit:            c.Inherit,
		MinimumNoticeHours: c.MinimumNoticeHours,
		ShortNoticeFine:    c.ShortNoticeFine,
		InvalidReasonFine:  c.InvalidReasonFine,
	}
}

func (h *Handler) CreateOrgUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID     *int64                       `json:"parentID"`
		Name         string                       `json:"name" validate:"required"`
		Cancellation *cancellationSettingsRequest `json:"cancellation" validate:"omitempty"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	unit := &domain.OrgUnit{
		ParentID:     req.ParentID,
		Name:         req.Name,
		Cancellation: req.Cancellation.toDomain(),
	}
	if err := h.scheduler.CreateOrgUnit(r.Context(), h.currentUserID(r), unit); err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "组织单元创建成功", unit)
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrgUnitID          *int64                       `json:"orgUnitID"`
		Name               string                       `json:"name" validate:"required"`
		Timezone           string                       `json:"timezone" validate:"required"`
		DefaultClosingTime *string                      `json:"defaultClosingTime" validate:"omitempty,datetime=15:04:05"`
		MaxOpenMinutes     *int                         `json:"maxOpenMinutes" validate:"omitempty,gt=0"`
		Cancellation       *cancellationSettingsRequest `json:"cancellation" validate:"omitempty"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	loc := &domain.Location{
		OrgUnitID:          req.OrgUnitID,
		Name:               req.Name,
		Timezone:           req.Timezone,
		DefaultClosingTime: req.DefaultClosingTime,
		Cancellation:       req.Cancellation.toDomain(),
	}
	if req.MaxOpenMinutes != nil {
		d := time.Duration(*req.MaxOpenMinutes) * time.Minute
		loc.MaxOpenDuration = &d
	}

	if err := h.scheduler.CreateLocation(r.Context(), h.currentUserID(r), loc); err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "地点创建成功", loc)
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.scheduler.ListLocations(r.Context(), h.currentUserID(r))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取地点列表成功", locations)
}

func (h *Handler) AddLocationMember(w http.ResponseWriter, r *http.Request) {
	locationID, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req struct {
		UserID     int64           `json:"userID" validate:"required"`
		Role       string          `json:"role" validate:"required,oneof=owner manager employee"`
		HourlyRate decimal.Decimal `json:"hourlyRate"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}
	if req.HourlyRate.IsNegative() {
		h.errorResponse(w, r, "时薪不能为负数")
		return
	}

	member := &domain.LocationMember{
		LocationID: locationID,
		UserID:     req.UserID,
		Role:       domain.Role(req.Role),
		HourlyRate: req.HourlyRate,
	}
	if err := h.scheduler.AddLocationMember(r.Context(), h.currentUserID(r), member); err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "成员已更新", member)
}

func (h *Handler) ListTimeSlots(w http.ResponseWriter, r *http.Request) {
	locationID, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	q := r.URL.Query()
	slots, err := h.scheduler.ListTimeSlots(r.Context(), h.currentUserID(r), locationID, q.Get("from"), q.Get("to"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取时间段成功", slots)
}

func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	locationID, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	q := r.URL.Query()
	days, err := h.scheduler.Calendar(r.Context(), h.currentUserID(r), locationID, q.Get("from"), q.Get("to"))
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取日历成功", days)
}

func (h *Handler) ListCancellations(w http.ResponseWriter, r *http.Request) {
	locationID, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	status := domain.ModerationStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.ModerationNotRequired, domain.ModerationPending, domain.ModerationApproved, domain.ModerationRejected:
	default:
		h.errorResponse(w, r, "审核状态无效")
		return
	}

	records, err := h.scheduler.ListCancellations(r.Context(), h.currentUserID(r), locationID, status)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取取消记录成功", records)
}
