package allocator

import (
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/capacity"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

type Request struct {
	WorkerID   int64
	TimeSlotID int64
	StartAt    time.Time
	EndAt      time.Time
}

// Decision 是一次成功分配的结果，席位编号不持久化，只用于日志和调试
type Decision struct {
	Track  int
	Tracks *capacity.Result
}

// Allocate 在给定的一致快照上判断请求能否落位
//
// slotBookings 为该时间段的全部预约，workerBookings 为该员工在所有时间段上的预约。
// 调用方需要保证两者在同一事务（或同一把锁）内读取。
func Allocate(slot *domain.TimeSlot, slotBookings, workerBookings []*domain.Booking, req Request) (*Decision, error) {
	if err := ValidateRequest(slot, req); err != nil {
		return nil, err
	}

	tracks := capacity.Resolve(slot, slotBookings)
	idx, ok := tracks.FindTrack(req.StartAt, req.EndAt)
	if !ok {
		return nil, &domain.AllocationError{Kind: domain.AllocationCapacityExceeded}
	}

	if conflict := FindWorkerConflict(workerBookings, req.WorkerID, req.StartAt, req.EndAt); conflict != nil {
		return nil, &domain.AllocationError{
			Kind:                 domain.AllocationWorkerDoubleBooked,
			ConflictingBookingID: conflict.ID,
		}
	}

	return &Decision{Track: idx, Tracks: tracks}, nil
}

func ValidateRequest(slot *domain.TimeSlot, req Request) error {
	if slot.IsDeleted() {
		return domain.ErrSlotDeleted
	}
	if !req.StartAt.Before(req.EndAt) {
		return domain.ErrInvalidInterval
	}
	if !slot.Contains(req.StartAt, req.EndAt) {
		return domain.ErrOutsideSlot
	}
	return nil
}

// FindWorkerConflict 返回该员工与 [start, end) 重叠的第一个有效预约
func FindWorkerConflict(bookings []*domain.Booking, workerID int64, start, end time.Time) *domain.Booking {
	for _, b := range bookings {
		if b.WorkerID != workerID || !b.Active() {
			continue
		}
		if b.Overlaps(start, end) {
			return b
		}
	}
	return nil
}
