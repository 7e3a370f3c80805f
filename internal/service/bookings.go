package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/allocator"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/lifecycle"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/policy"
)

type AllocateRequest struct {
	WorkerID   int64
	TimeSlotID int64
	StartAt    time.Time
	EndAt      time.Time
}

// Allocate 为员工在时间段内预约一个席位。
// 员工只能为自己预约，负责人和管理员可以为本地点的任何成员预约
func (s *Scheduler) Allocate(ctx context.Context, actorID int64, req AllocateRequest) (*domain.Booking, error) {
	slot, err := s.store.GetTimeSlotByID(ctx, req.TimeSlotID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorFor(ctx, actorID, req.WorkerID, slot.LocationID)
	if err != nil {
		return nil, err
	}
	worker, err := s.membership(ctx, req.WorkerID, slot.LocationID)
	if err != nil {
		return nil, err
	}

	var booking *domain.Booking
	err = s.withRetry("allocate", func() error {
		var err error
		booking, err = s.store.AllocateBooking(ctx, req.TimeSlotID, req.WorkerID, func(slot *domain.TimeSlot, slotBookings, workerBookings []*domain.Booking) (*domain.Booking, error) {
			decision, err := allocator.Allocate(slot, slotBookings, workerBookings, allocator.Request{
				WorkerID:   req.WorkerID,
				TimeSlotID: req.TimeSlotID,
				StartAt:    req.StartAt,
				EndAt:      req.EndAt,
			})
			if err != nil {
				return nil, err
			}
			s.logger.Debug("预约落位", slog.Int64("time_slot_id", slot.ID), slog.Int("track", decision.Track))

			return lifecycle.Plan(lifecycle.PlanParams{
				Slot:       slot,
				WorkerID:   req.WorkerID,
				StartAt:    req.StartAt,
				EndAt:      req.EndAt,
				By:         actor,
				HourlyRate: worker.HourlyRate,
				At:         s.now(),
			}), nil
		})
		return err
	})
	if err != nil {
		var allocErr *domain.AllocationError
		if errors.As(err, &allocErr) {
			metrics.Allocation(string(allocErr.Kind))
		} else {
			metrics.Allocation("error")
		}
		return nil, err
	}

	metrics.Allocation("ok")
	metrics.Transition(string(domain.TransitionPlan), string(actor.Type))
	s.invalidate(ctx, bookingTags(booking, slot)...)
	s.publish(ctx, domain.EventBookingAllocated, domain.BookingAllocatedPayload{Booking: booking})

	return booking, nil
}

type CancelRequest struct {
	BookingID   int64
	ReasonCode  string
	Notes       string
	EvidenceRef string
}

// Cancel 取消预约，员工已经在岗时同时强制结束班次。
// 每次取消都会产生一条取消记录，员工本人取消时进入待审核，罚款在审核时确定
func (s *Scheduler) Cancel(ctx context.Context, actorID int64, req CancelRequest) (*domain.CancellationRecord, error) {
	b, err := s.store.GetBookingByID(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorFor(ctx, actorID, b.WorkerID, b.LocationID)
	if err != nil {
		return nil, err
	}
	snapshot := s.policies.ResolveForLocation(ctx, b.LocationID)

	var (
		record  *domain.CancellationRecord
		booking *domain.Booking
	)
	err = s.withRetry("cancel", func() error {
		var err error
		record, booking, _, err = s.store.CancelBooking(ctx, req.BookingID, func(b *domain.Booking, inst *domain.ShiftInstance) (*domain.CancellationRecord, error) {
			rec, err := lifecycle.Cancel(b, inst, lifecycle.CancelParams{
				By:          actor,
				ReasonCode:  req.ReasonCode,
				Notes:       req.Notes,
				EvidenceRef: req.EvidenceRef,
				At:          s.now(),
			})
			if err != nil {
				return nil, err
			}
			policy.Apply(rec, snapshot)
			return rec, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transition(string(domain.TransitionCancel), string(actor.Type))
	s.invalidate(ctx, s.bookingScopeTags(ctx, booking)...)
	s.publish(ctx, domain.EventCancellationRecorded, domain.CancellationPayload{Cancellation: record})

	return record, nil
}

type CancelShiftRequest struct {
	ShiftID     int64
	ReasonCode  string
	Notes       string
	EvidenceRef string
}

// CancelShift 按班次取消。有预约的班次连同预约一起取消，
// 临时班次没有预约，直接强制结束并记录取消
func (s *Scheduler) CancelShift(ctx context.Context, actorID int64, req CancelShiftRequest) (*domain.CancellationRecord, error) {
	inst, err := s.store.GetShiftByID(ctx, req.ShiftID)
	if err != nil {
		return nil, err
	}
	if inst.BookingID != nil {
		return s.Cancel(ctx, actorID, CancelRequest{
			BookingID:   *inst.BookingID,
			ReasonCode:  req.ReasonCode,
			Notes:       req.Notes,
			EvidenceRef: req.EvidenceRef,
		})
	}

	actor, err := s.actorFor(ctx, actorID, inst.WorkerID, inst.LocationID)
	if err != nil {
		return nil, err
	}
	snapshot := s.policies.ResolveForLocation(ctx, inst.LocationID)

	var (
		record *domain.CancellationRecord
		shift  *domain.ShiftInstance
	)
	err = s.withRetry("cancel_shift", func() error {
		var err error
		record, shift, err = s.store.CancelShift(ctx, req.ShiftID, func(inst *domain.ShiftInstance) (*domain.CancellationRecord, error) {
			rec, err := lifecycle.CancelShift(inst, lifecycle.CancelParams{
				By:          actor,
				ReasonCode:  req.ReasonCode,
				Notes:       req.Notes,
				EvidenceRef: req.EvidenceRef,
				At:          s.now(),
			})
			if err != nil {
				return nil, err
			}
			policy.Apply(rec, snapshot)
			return rec, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transition(string(domain.TransitionCancel), string(actor.Type))
	s.invalidate(ctx, s.shiftScopeTags(ctx, shift)...)
	s.publish(ctx, domain.EventCancellationRecorded, domain.CancellationPayload{Cancellation: record})

	return record, nil
}

// ModerateCancellation 审核员工发起的取消，返回确定后的罚款明细
func (s *Scheduler) ModerateCancellation(ctx context.Context, actorID, cancellationID int64, approve bool) (*domain.CancellationRecord, error) {
	rec, err := s.store.GetCancellationByID(ctx, cancellationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManager(ctx, actorID, rec.LocationID); err != nil {
		return nil, err
	}
	if rec.WorkerID == actorID {
		return nil, domain.ErrForbidden
	}

	var updated *domain.CancellationRecord
	err = s.withRetry("moderate", func() error {
		var err error
		updated, err = s.store.ModerateCancellation(ctx, cancellationID, func(rec *domain.CancellationRecord) error {
			return policy.Moderate(rec, approve, actorID, s.now())
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, cache.TagWorker(updated.WorkerID))
	s.publish(ctx, domain.EventCancellationModerated, domain.CancellationPayload{Cancellation: updated})

	return updated, nil
}
