package handler

import (
	"net/http"
	"strconv"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"
)

type coordinatesRequest struct {
	Coordinates *domain.Coordinates `json:"coordinates" validate:"omitempty"`
}

func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req coordinatesRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	inst, err := h.scheduler.OpenShift(r.Context(), h.currentUserID(r), id, req.Coordinates)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "已开始值班", inst)
}

func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req coordinatesRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	inst, err := h.scheduler.CloseShift(r.Context(), h.currentUserID(r), id, req.Coordinates)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "已结束值班", inst)
}

func (h *Handler) OpenSpontaneousShift(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocationID  int64               `json:"locationID" validate:"required"`
		Coordinates *domain.Coordinates `json:"coordinates" validate:"omitempty"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	inst, err := h.scheduler.OpenSpontaneous(r.Context(), h.currentUserID(r), req.LocationID, req.Coordinates)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "已开始值班", inst)
}

// ListShifts 支持 scope=worker（默认，查询自己的班次）和 scope=location&locationID=...
func (h *Handler) ListShifts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	q := service.ShiftQuery{
		Scope: service.ShiftScope(query.Get("scope")),
		From:  query.Get("from"),
		To:    query.Get("to"),
	}
	if q.Scope == "" {
		q.Scope = service.ShiftScopeWorker
	}
	if q.Scope == service.ShiftScopeLocation {
		locationID, err := strconv.ParseInt(query.Get("locationID"), 10, 64)
		if err != nil {
			h.errorResponse(w, r, "地点ID无效")
			return
		}
		q.LocationID = locationID
	}

	shifts, err := h.scheduler.ListShifts(r.Context(), h.currentUserID(r), q)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取班次成功", shifts)
}

// CancelShift 按班次取消，用于没有预约的临时班次；有预约的班次会连同预约一起取消
func (h *Handler) CancelShift(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req cancelRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	record, err := h.scheduler.CancelShift(r.Context(), h.currentUserID(r), service.CancelShiftRequest{
		ShiftID:     id,
		ReasonCode:  req.ReasonCode,
		Notes:       req.Notes,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "班次已取消", record)
}
