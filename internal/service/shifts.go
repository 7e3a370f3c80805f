package service

import (
	"context"
	"log/slog"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/lifecycle"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/reconciler"
)

// OpenShift 员工到岗开班。开班时间取当前时间，预约原本的开始时间另行保留
func (s *Scheduler) OpenShift(ctx context.Context, actorID, bookingID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error) {
	b, err := s.store.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorFor(ctx, actorID, b.WorkerID, b.LocationID)
	if err != nil {
		return nil, err
	}

	return s.openBooking(ctx, actor, bookingID, lifecycle.OpenParams{
		Coordinates: coords,
		Reason:      domain.OpenManual,
	})
}

func (s *Scheduler) openBooking(ctx context.Context, actor domain.Actor, bookingID int64, p lifecycle.OpenParams) (*domain.ShiftInstance, error) {
	var (
		inst    *domain.ShiftInstance
		booking *domain.Booking
	)
	err := s.withRetry("open", func() error {
		var err error
		inst, booking, err = s.store.OpenShift(ctx, bookingID, func(b *domain.Booking, current *domain.ShiftInstance) (*domain.ShiftInstance, error) {
			params := p
			params.CurrentOpen = current
			if params.ActualStartAt.IsZero() {
				params.ActualStartAt = s.now()
			}
			return lifecycle.Open(b, params)
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transition(string(domain.TransitionOpen), string(actor.Type))
	s.invalidate(ctx, s.bookingScopeTags(ctx, booking)...)
	s.publish(ctx, domain.EventShiftOpened, domain.ShiftOpenedPayload{Shift: inst})

	return inst, nil
}

// OpenSpontaneous 员工在没有预约的情况下直接在某个地点开班
func (s *Scheduler) OpenSpontaneous(ctx context.Context, actorID, locationID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error) {
	loc, err := s.store.GetLocationByID(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, actorID, locationID); err != nil {
		return nil, err
	}

	var inst *domain.ShiftInstance
	err = s.withRetry("open_spontaneous", func() error {
		var err error
		inst, err = s.store.OpenSpontaneousShift(ctx, actorID, func(current *domain.ShiftInstance) (*domain.ShiftInstance, error) {
			return lifecycle.OpenSpontaneous(actorID, locationID, lifecycle.OpenParams{
				CurrentOpen:   current,
				ActualStartAt: s.now(),
				Coordinates:   coords,
			})
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Transition(string(domain.TransitionOpen), string(domain.ActorWorker))
	date := inst.ActualStartAt.In(loc.TimeLocation()).Format(domain.DateLayout)
	s.invalidate(ctx, cache.TagWorker(actorID), cache.TagLocationDate(locationID, date))
	s.publish(ctx, domain.EventShiftOpened, domain.ShiftOpenedPayload{Shift: inst})

	return inst, nil
}

// CloseShift 员工下班，或由负责人、管理员代为结束班次。重复结束不会报错
func (s *Scheduler) CloseShift(ctx context.Context, actorID, instanceID int64, coords *domain.Coordinates) (*domain.ShiftInstance, error) {
	inst, err := s.store.GetShiftByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	actor, err := s.actorFor(ctx, actorID, inst.WorkerID, inst.LocationID)
	if err != nil {
		return nil, err
	}

	return s.closeShift(ctx, instanceID, lifecycle.CloseParams{
		By:          actor,
		Reason:      domain.CloseManual,
		Coordinates: coords,
	})
}

func (s *Scheduler) closeShift(ctx context.Context, instanceID int64, p lifecycle.CloseParams) (*domain.ShiftInstance, error) {
	var (
		inst    *domain.ShiftInstance
		booking *domain.Booking
		changed bool
	)
	err := s.withRetry("close", func() error {
		var err error
		inst, booking, changed, err = s.store.CloseShift(ctx, instanceID, func(inst *domain.ShiftInstance, b *domain.Booking) (bool, error) {
			params := p
			if params.At.IsZero() {
				params.At = s.now()
			}
			return lifecycle.Close(inst, b, params)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return inst, nil
	}

	metrics.Transition(string(domain.TransitionClose), string(p.By.Type))
	if booking != nil {
		s.invalidate(ctx, s.bookingScopeTags(ctx, booking)...)
	} else {
		s.invalidate(ctx, s.shiftScopeTags(ctx, inst)...)
	}
	s.publish(ctx, domain.EventShiftClosed, domain.ShiftClosedPayload{Shift: inst})

	return inst, nil
}

// shiftScopeTags 返回没有预约的班次变更影响的缓存标签，日期按地点时区的开班日期计算
func (s *Scheduler) shiftScopeTags(ctx context.Context, inst *domain.ShiftInstance) []string {
	tags := []string{cache.TagWorker(inst.WorkerID)}
	loc, err := s.store.GetLocationByID(ctx, inst.LocationID)
	if err != nil {
		s.logger.Warn("无法读取地点，只失效员工缓存", slog.Int64("location_id", inst.LocationID), "error", err)
		return tags
	}
	return append(tags, cache.TagLocationDate(inst.LocationID, inst.ActualStartAt.In(loc.TimeLocation()).Format(domain.DateLayout)))
}

// AutoClose 执行对账得出的超时结束。结束时间记为有效结束时间，
// 但不早于班次的实际开始时间。本轮续班产生的班次没有 ID，通过预约找到它
func (s *Scheduler) AutoClose(ctx context.Context, a reconciler.Action) error {
	instanceID := a.InstanceID
	if instanceID == 0 {
		if a.BookingID == nil {
			return domain.ErrNotFound
		}
		inst, err := s.store.GetShiftByBookingID(ctx, *a.BookingID)
		if err != nil {
			return err
		}
		instanceID = inst.ID
	}

	at := a.EffectiveEndAt
	if at.IsZero() {
		at = a.At
	}
	inst, err := s.closeShift(ctx, instanceID, lifecycle.CloseParams{
		By:          domain.SystemActor,
		Reason:      a.CloseReason,
		Coordinates: a.Coordinates,
		At:          at,
	})
	if err != nil {
		return err
	}

	s.logger.Info("班次已自动结束", slog.Int64("instance_id", inst.ID), slog.Int64("worker_id", inst.WorkerID))
	return nil
}

// ChainOpen 执行对账得出的自动续班，坐标沿用上一个班次
func (s *Scheduler) ChainOpen(ctx context.Context, a reconciler.Action) error {
	if a.BookingID == nil {
		return domain.ErrNotFound
	}
	inst, err := s.openBooking(ctx, domain.SystemActor, *a.BookingID, lifecycle.OpenParams{
		ActualStartAt: a.At,
		Coordinates:   a.Coordinates,
		Reason:        domain.OpenAutoChained,
	})
	if err != nil {
		return err
	}

	s.logger.Info("已自动续班", slog.Int64("instance_id", inst.ID), slog.Int64("booking_id", *a.BookingID))
	return nil
}

// ActiveShift 查询员工当前进行中的班次，直接读取持久化数据
func (s *Scheduler) ActiveShift(ctx context.Context, workerID int64) (*domain.ShiftInstance, error) {
	return s.store.GetOpenShiftForWorker(ctx, workerID)
}
