package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/capacity"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/utils"
)

// 一次请求最多展开的时间段数量
const maxOccurrences = 366

type CreateTimeSlotsRequest struct {
	LocationID          int64
	Date                string // 第一次出现的日期，YYYY-MM-DD
	StartTime           string // HH:MM
	EndTime             string // HH:MM，不晚于 StartTime 时视为次日
	MaxEmployees        int32
	LatePenaltyDisabled bool
	RRule               string // 为空时只创建一个时间段
	Until               string // 重复规则的截止日期（含），为空时最多展开一年
}

// CreateTimeSlots 创建单个或按重复规则批量创建时间段，同一批次共享 SeriesID
func (s *Scheduler) CreateTimeSlots(ctx context.Context, actorID int64, req CreateTimeSlotsRequest) ([]*domain.TimeSlot, error) {
	if _, err := s.requireManager(ctx, actorID, req.LocationID); err != nil {
		return nil, err
	}
	loc, err := s.store.GetLocationByID(ctx, req.LocationID)
	if err != nil {
		return nil, err
	}
	if req.MaxEmployees < 1 {
		return nil, domain.ErrInvalidCapacity
	}

	tz := loc.TimeLocation()
	first, _, err := utils.ParseSlotWindow(req.Date, req.StartTime, req.EndTime, tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInterval, err)
	}

	starts := []time.Time{first}
	var seriesID *string
	if req.RRule != "" {
		starts, err = expand(req.RRule, first, req.Until, tz)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		seriesID = &id
	}

	slots := make([]*domain.TimeSlot, 0, len(starts))
	for _, occurrence := range starts {
		// 按每次出现当天的本地时间计算，跨夏令时切换时起止钟点不变
		date := occurrence.In(tz).Format(domain.DateLayout)
		start, end, err := utils.ParseSlotWindow(date, req.StartTime, req.EndTime, tz)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInterval, err)
		}
		slots = append(slots, &domain.TimeSlot{
			LocationID:          req.LocationID,
			SeriesID:            seriesID,
			Date:                date,
			StartAt:             start,
			EndAt:               end,
			MaxEmployees:        req.MaxEmployees,
			LatePenaltyDisabled: req.LatePenaltyDisabled,
		})
	}

	if err := s.store.CreateTimeSlots(ctx, slots); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(slots))
	for _, slot := range slots {
		tags = append(tags, cache.TagLocationDate(slot.LocationID, slot.Date))
	}
	s.invalidate(ctx, tags...)

	return slots, nil
}

// expand 将重复规则展开为各次出现的开始时间，first 一定包含在内
func expand(rule string, first time.Time, until string, tz *time.Location) ([]time.Time, error) {
	r, err := rrule.StrToRRule(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRecurrence, err)
	}
	r.DTStart(first)

	var last time.Time
	if until != "" {
		d, err := time.ParseInLocation(domain.DateLayout, until, tz)
		if err != nil {
			return nil, domain.ErrInvalidRecurrence
		}
		last = d.AddDate(0, 0, 1).Add(-time.Second)
	} else {
		last = first.AddDate(1, 0, 0)
	}
	if last.Before(first) {
		return nil, domain.ErrInvalidRecurrence
	}

	starts := r.Between(first, last, true)
	if len(starts) == 0 {
		return nil, domain.ErrInvalidRecurrence
	}
	if len(starts) > maxOccurrences {
		return nil, fmt.Errorf("%w: 最多展开 %d 个时间段", domain.ErrInvalidRecurrence, maxOccurrences)
	}
	return starts, nil
}

type UpdateTimeSlotRequest struct {
	StartAt             *time.Time
	EndAt               *time.Time
	MaxEmployees        *int32
	LatePenaltyDisabled *bool
}

// UpdateTimeSlot 修改时间段。已有预约必须仍然落在时间段内，且按新的席位数仍能全部放下
func (s *Scheduler) UpdateTimeSlot(ctx context.Context, actorID, timeSlotID int64, req UpdateTimeSlotRequest) (*domain.TimeSlot, error) {
	current, err := s.store.GetTimeSlotByID(ctx, timeSlotID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireManager(ctx, actorID, current.LocationID); err != nil {
		return nil, err
	}
	loc, err := s.store.GetLocationByID(ctx, current.LocationID)
	if err != nil {
		return nil, err
	}

	oldDate := current.Date
	var updated *domain.TimeSlot
	err = s.withRetry("update_time_slot", func() error {
		var err error
		updated, err = s.store.UpdateTimeSlot(ctx, timeSlotID, func(slot *domain.TimeSlot, bookings []*domain.Booking) error {
			if slot.IsDeleted() {
				return domain.ErrSlotDeleted
			}
			if req.StartAt != nil {
				slot.StartAt = *req.StartAt
			}
			if req.EndAt != nil {
				slot.EndAt = *req.EndAt
			}
			if req.MaxEmployees != nil {
				slot.MaxEmployees = *req.MaxEmployees
			}
			if req.LatePenaltyDisabled != nil {
				slot.LatePenaltyDisabled = *req.LatePenaltyDisabled
			}
			if !slot.StartAt.Before(slot.EndAt) {
				return domain.ErrInvalidInterval
			}
			if slot.MaxEmployees < 1 {
				return domain.ErrInvalidCapacity
			}
			slot.Date = slot.StartAt.In(loc.TimeLocation()).Format(domain.DateLayout)

			for _, b := range bookings {
				if !slot.Contains(b.StartAt, b.EndAt) {
					return domain.ErrOutsideSlot
				}
			}
			if res := capacity.Resolve(slot, bookings); len(res.Overflow) > 0 {
				return &domain.AllocationError{Kind: domain.AllocationCapacityExceeded}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx,
		cache.TagSlot(updated.ID),
		cache.TagLocationDate(updated.LocationID, oldDate),
		cache.TagLocationDate(updated.LocationID, updated.Date),
	)

	return updated, nil
}

// DeleteTimeSlot 软删除时间段，仍有未结束的预约时拒绝
func (s *Scheduler) DeleteTimeSlot(ctx context.Context, actorID, timeSlotID int64) error {
	current, err := s.store.GetTimeSlotByID(ctx, timeSlotID)
	if err != nil {
		return err
	}
	if _, err := s.requireManager(ctx, actorID, current.LocationID); err != nil {
		return err
	}

	var deleted *domain.TimeSlot
	err = s.withRetry("delete_time_slot", func() error {
		var err error
		deleted, err = s.store.DeleteTimeSlot(ctx, timeSlotID, s.now())
		return err
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, cache.TagSlot(deleted.ID), cache.TagLocationDate(deleted.LocationID, deleted.Date))
	return nil
}
