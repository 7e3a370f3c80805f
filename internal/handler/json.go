package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

func (h *Handler) logInternalServerError(r *http.Request, err error) {
	slog.Error("服务器内部错误", "method", r.Method, "path", r.URL.Path, "error", err)
}

// readJSON 允许空请求体，例如开始值班时可以不带坐标
func (h *Handler) readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// readRequest 解析请求体并校验
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := h.readJSON(r, v); err != nil {
		h.badRequest(w, r, err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		h.badRequest(w, r, err)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logInternalServerError(r, err)
		http.Error(w, "服务器内部错误", http.StatusInternalServerError)
	}
}

type Response struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func (h *Handler) errorResponse(w http.ResponseWriter, r *http.Request, msg string) {
	h.writeJSON(w, r, http.StatusOK, Response{
		Success: false,
		Message: msg,
		Data:    nil,
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		h.errorResponse(w, r, err.Error())
		return
	}

	h.errorResponse(w, r, validationErrors[0].Translate(h.translator))
}

func (h *Handler) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	h.logInternalServerError(r, err)
	h.writeJSON(w, r, http.StatusInternalServerError, Response{
		Success: false,
		Message: "服务器内部错误",
		Data:    nil,
	})
}

func (h *Handler) successResponse(w http.ResponseWriter, r *http.Request, msg string, data any) {
	h.writeJSON(w, r, http.StatusOK, Response{
		Success: true,
		Message: msg,
		Data:    data,
	})
}

var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrNotFound, "not_found"},
	{domain.ErrForbidden, "forbidden"},
	{domain.ErrCapacityExceeded, "capacity_exceeded"},
	{domain.ErrWorkerDoubleBooked, "worker_double_booked"},
	{domain.ErrWorkerAlreadyOnShift, "worker_already_on_shift"},
	{domain.ErrPersistenceConflict, "persistence_conflict"},
	{domain.ErrAlreadyModerated, "already_moderated"},
	{domain.ErrSlotDeleted, "slot_deleted"},
	{domain.ErrSlotInUse, "slot_in_use"},
	{domain.ErrInvalidInterval, "invalid_interval"},
	{domain.ErrOutsideSlot, "outside_slot"},
	{domain.ErrInvalidRange, "invalid_range"},
	{domain.ErrInvalidCapacity, "invalid_capacity"},
	{domain.ErrInvalidTimezone, "invalid_timezone"},
	{domain.ErrInvalidRecurrence, "invalid_recurrence"},
}

// serviceError 把领域错误转换为带 code 的失败响应，其余错误视为服务器内部错误
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	var transitionErr *domain.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		h.writeJSON(w, r, http.StatusOK, Response{Success: false, Code: "invalid_transition", Message: err.Error()})
		return
	}

	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			h.writeJSON(w, r, http.StatusOK, Response{Success: false, Code: c.code, Message: err.Error()})
			return
		}
	}

	h.internalServerError(w, r, err)
}

func (h *Handler) idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("ID 无效")
	}
	return id, nil
}

func (h *Handler) currentUserID(r *http.Request) int64 {
	return r.Context().Value(UserIDCtxKey).(int64)
}
