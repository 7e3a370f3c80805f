package handler

import (
	"net/http"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/capacity"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"
)

func (h *Handler) CreateTimeSlots(w http.ResponseWriter, r *http.Request) {
	locationID, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req struct {
		Date                string `json:"date" validate:"required,datetime=2006-01-02"`
		StartTime           string `json:"startTime" validate:"required,datetime=15:04"`
		EndTime             string `json:"endTime" validate:"required,datetime=15:04"`
		MaxEmployees        int32  `json:"maxEmployees" validate:"required,gte=1"`
		LatePenaltyDisabled bool   `json:"latePenaltyDisabled"`
		RRule               string `json:"rrule"`
		Until               string `json:"until" validate:"omitempty,datetime=2006-01-02"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	slots, err := h.scheduler.CreateTimeSlots(r.Context(), h.currentUserID(r), service.CreateTimeSlotsRequest{
		LocationID:          locationID,
		Date:                req.Date,
		StartTime:           req.StartTime,
		EndTime:             req.EndTime,
		MaxEmployees:        req.MaxEmployees,
		LatePenaltyDisabled: req.LatePenaltyDisabled,
		RRule:               req.RRule,
		Until:               req.Until,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "时间段创建成功", slots)
}

func (h *Handler) UpdateTimeSlot(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req struct {
		StartAt             *time.Time `json:"startAt"`
		EndAt               *time.Time `json:"endAt"`
		MaxEmployees        *int32     `json:"maxEmployees" validate:"omitempty,gte=1"`
		LatePenaltyDisabled *bool      `json:"latePenaltyDisabled"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	slot, err := h.scheduler.UpdateTimeSlot(r.Context(), h.currentUserID(r), id, service.UpdateTimeSlotRequest{
		StartAt:             req.StartAt,
		EndAt:               req.EndAt,
		MaxEmployees:        req.MaxEmployees,
		LatePenaltyDisabled: req.LatePenaltyDisabled,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "时间段更新成功", slot)
}

func (h *Handler) DeleteTimeSlot(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	if err := h.scheduler.DeleteTimeSlot(r.Context(), h.currentUserID(r), id); err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "时间段已删除", nil)
}

// GetCapacity 返回时间段当前的席位划分，带 asOf 时回看该时刻的占用情况
func (h *Handler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var res *capacity.Result
	if v := r.URL.Query().Get("asOf"); v != "" {
		asOf, perr := time.Parse(time.RFC3339, v)
		if perr != nil {
			h.errorResponse(w, r, "asOf 必须是 RFC3339 格式的时间")
			return
		}
		res, err = h.scheduler.CapacityAt(r.Context(), h.currentUserID(r), id, asOf)
	} else {
		res, err = h.scheduler.Capacity(r.Context(), h.currentUserID(r), id)
	}
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取席位情况成功", res)
}
