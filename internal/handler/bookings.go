package handler

import (
	"net/http"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/service"
)

// Allocate 预约席位，workerID 为空时为自己预约
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID   int64     `json:"workerID"`
		TimeSlotID int64     `json:"timeSlotID" validate:"required"`
		StartAt    time.Time `json:"startAt" validate:"required"`
		EndAt      time.Time `json:"endAt" validate:"required,gtfield=StartAt"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	actorID := h.currentUserID(r)
	if req.WorkerID == 0 {
		req.WorkerID = actorID
	}

	booking, err := h.scheduler.Allocate(r.Context(), actorID, service.AllocateRequest{
		WorkerID:   req.WorkerID,
		TimeSlotID: req.TimeSlotID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "预约成功", booking)
}

type cancelRequest struct {
	ReasonCode  string `json:"reasonCode" validate:"required,max=64"`
	Notes       string `json:"notes" validate:"max=1000"`
	EvidenceRef string `json:"evidenceRef" validate:"max=512"`
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req cancelRequest
	if !h.readRequest(w, r, &req) {
		return
	}

	record, err := h.scheduler.Cancel(r.Context(), h.currentUserID(r), service.CancelRequest{
		BookingID:   id,
		ReasonCode:  req.ReasonCode,
		Notes:       req.Notes,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "预约已取消", record)
}

func (h *Handler) ModerateCancellation(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	var req struct {
		Approve *bool `json:"approve" validate:"required"`
	}
	if !h.readRequest(w, r, &req) {
		return
	}

	record, err := h.scheduler.ModerateCancellation(r.Context(), h.currentUserID(r), id, *req.Approve)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	h.successResponse(w, r, "审核完成", record)
}
