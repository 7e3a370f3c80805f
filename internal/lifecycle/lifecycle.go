// Package lifecycle 定义预约与班次的状态迁移
//
//	planned -> open -> closed
//	planned -> cancelled
//	open    -> cancelled
//
// closed 与 cancelled 为终态。这里只修改传入的对象，持久化由调用方完成，
// 并且调用方必须在写入时校验版本号，确保迁移基于最新状态。
package lifecycle

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

func invalid(t domain.Transition, from string) error {
	return &domain.InvalidTransitionError{Transition: t, From: from}
}

type PlanParams struct {
	Slot       *domain.TimeSlot
	WorkerID   int64
	StartAt    time.Time
	EndAt      time.Time
	By         domain.Actor
	HourlyRate decimal.Decimal
	At         time.Time
}

// Plan 创建处于 planned 状态的预约
func Plan(p PlanParams) *domain.Booking {
	return &domain.Booking{
		TimeSlotID:    p.Slot.ID,
		LocationID:    p.Slot.LocationID,
		WorkerID:      p.WorkerID,
		StartAt:       p.StartAt,
		EndAt:         p.EndAt,
		Status:        domain.BookingPlanned,
		CreatedBy:     p.By.ID,
		CreatedByType: p.By.Type,
		HourlyRate:    p.HourlyRate,
		CreatedAt:     p.At,
	}
}

type OpenParams struct {
	// 该员工当前处于 open 状态的班次，没有则为 nil
	CurrentOpen   *domain.ShiftInstance
	ActualStartAt time.Time
	Coordinates   *domain.Coordinates
	Reason        domain.OpenReason
}

// Open 将预约置为 open 并生成班次实例，计划开始时间保留预约自身的开始时间
func Open(b *domain.Booking, p OpenParams) (*domain.ShiftInstance, error) {
	if b.Status != domain.BookingPlanned {
		return nil, invalid(domain.TransitionOpen, string(b.Status))
	}
	if p.CurrentOpen != nil && p.CurrentOpen.IsOpen() {
		return nil, domain.ErrWorkerAlreadyOnShift
	}

	reason := p.Reason
	if reason == "" {
		reason = domain.OpenManual
	}

	bookingID := b.ID
	plannedStart := b.StartAt
	b.Status = domain.BookingOpen

	return &domain.ShiftInstance{
		BookingID:        &bookingID,
		WorkerID:         b.WorkerID,
		LocationID:       b.LocationID,
		Status:           domain.ShiftOpen,
		PlannedStartAt:   &plannedStart,
		ActualStartAt:    p.ActualStartAt,
		StartCoordinates: p.Coordinates,
		OpenReason:       reason,
		CreatedAt:        p.ActualStartAt,
	}, nil
}

// OpenSpontaneous 在没有预约的情况下开班
func OpenSpontaneous(workerID, locationID int64, p OpenParams) (*domain.ShiftInstance, error) {
	if p.CurrentOpen != nil && p.CurrentOpen.IsOpen() {
		return nil, domain.ErrWorkerAlreadyOnShift
	}

	return &domain.ShiftInstance{
		WorkerID:         workerID,
		LocationID:       locationID,
		Status:           domain.ShiftOpen,
		ActualStartAt:    p.ActualStartAt,
		StartCoordinates: p.Coordinates,
		OpenReason:       domain.OpenSpontaneous,
		CreatedAt:        p.ActualStartAt,
	}, nil
}

type CloseParams struct {
	By          domain.Actor
	Reason      domain.CloseReason
	Coordinates *domain.Coordinates
	At          time.Time
}

// Close 结束班次。已经结束的班次返回 changed=false 且不报错，避免重复结束。
// booking 可以为空（临时班次）。结束时间不早于实际开始时间，
// 对账补跑时有效结束时间可能早于刚刚续上的开始时间。
func Close(inst *domain.ShiftInstance, booking *domain.Booking, p CloseParams) (changed bool, err error) {
	switch inst.Status {
	case domain.ShiftClosed:
		return false, nil
	case domain.ShiftOpen:
	default:
		return false, invalid(domain.TransitionClose, string(inst.Status))
	}

	if booking != nil && booking.Status != domain.BookingOpen {
		return false, invalid(domain.TransitionClose, string(booking.Status))
	}

	reason := p.Reason
	closedAt := notBefore(p.At, inst.ActualStartAt)
	inst.Status = domain.ShiftClosed
	inst.ClosedAt = &closedAt
	inst.CloseReason = &reason
	inst.CloseCoordinates = p.Coordinates
	if !p.By.IsSystem() {
		by := p.By.ID
		inst.ClosedBy = &by
	}

	if booking != nil {
		booking.Status = domain.BookingClosed
	}

	return true, nil
}

type CancelParams struct {
	By          domain.Actor
	ReasonCode  string
	Notes       string
	EvidenceRef string
	At          time.Time
}

// Cancel 取消预约；如果员工已经在岗，则同时强制结束对应的班次。
// 每次取消恰好产生一条取消记录，罚款字段留给取消策略填充。
func Cancel(b *domain.Booking, inst *domain.ShiftInstance, p CancelParams) (*domain.CancellationRecord, error) {
	switch b.Status {
	case domain.BookingPlanned:
	case domain.BookingOpen:
		if inst == nil || !inst.IsOpen() {
			return nil, invalid(domain.TransitionCancel, string(b.Status))
		}
	default:
		return nil, invalid(domain.TransitionCancel, string(b.Status))
	}

	cancelledAt := p.At
	bookingID := b.ID
	b.Status = domain.BookingCancelled
	b.CancelledAt = &cancelledAt

	record := &domain.CancellationRecord{
		BookingID:        &bookingID,
		LocationID:       b.LocationID,
		WorkerID:         b.WorkerID,
		CancelledBy:      p.By.ID,
		ActorType:        p.By.Type,
		ReasonCode:       p.ReasonCode,
		Notes:            p.Notes,
		EvidenceRef:      p.EvidenceRef,
		HoursBeforeStart: HoursBefore(b.StartAt, p.At),
		CreatedAt:        p.At,
	}

	if inst != nil && inst.IsOpen() {
		forceClose(inst, p)
		id := inst.ID
		record.ShiftInstanceID = &id
	}

	return record, nil
}

// CancelShift 取消没有预约的临时班次，距开始的小时数按实际开始时间计算。
// 有预约的班次必须通过 Cancel 连同预约一起取消
func CancelShift(inst *domain.ShiftInstance, p CancelParams) (*domain.CancellationRecord, error) {
	if inst.BookingID != nil || !inst.IsOpen() {
		return nil, invalid(domain.TransitionCancel, string(inst.Status))
	}

	forceClose(inst, p)
	id := inst.ID

	return &domain.CancellationRecord{
		ShiftInstanceID:  &id,
		LocationID:       inst.LocationID,
		WorkerID:         inst.WorkerID,
		CancelledBy:      p.By.ID,
		ActorType:        p.By.Type,
		ReasonCode:       p.ReasonCode,
		Notes:            p.Notes,
		EvidenceRef:      p.EvidenceRef,
		HoursBeforeStart: HoursBefore(inst.ActualStartAt, p.At),
		CreatedAt:        p.At,
	}, nil
}

func forceClose(inst *domain.ShiftInstance, p CancelParams) {
	reason := domain.CloseCancelled
	closedAt := notBefore(p.At, inst.ActualStartAt)
	inst.Status = domain.ShiftCancelled
	inst.ClosedAt = &closedAt
	inst.CloseReason = &reason
	if !p.By.IsSystem() {
		by := p.By.ID
		inst.ClosedBy = &by
	}
}

// HoursBefore 返回 at 距离 start 的小时数，已经开始时为负数，保留两位小数
func HoursBefore(start, at time.Time) decimal.Decimal {
	minutes := decimal.NewFromInt(int64(start.Sub(at) / time.Minute))
	return minutes.Div(decimal.NewFromInt(60)).Round(2)
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
