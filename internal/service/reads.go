package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/cache"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/capacity"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

// dateRange 解析闭区间 [from, to]，from/to 形如 YYYY-MM-DD
func (s *Scheduler) dateRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(domain.DateLayout, from, loc)
	if err != nil {
		return time.Time{}, time.Time{}, domain.ErrInvalidRange
	}
	end, err := time.ParseInLocation(domain.DateLayout, to, loc)
	if err != nil {
		return time.Time{}, time.Time{}, domain.ErrInvalidRange
	}
	if end.Before(start) || end.Sub(start) > time.Duration(s.opts.MaxRangeDays)*24*time.Hour {
		return time.Time{}, time.Time{}, domain.ErrInvalidRange
	}
	return start, end, nil
}

// viewer 返回用户在地点上的可见范围
func (s *Scheduler) viewer(ctx context.Context, userID, locationID int64) (domain.ViewerScope, error) {
	m, err := s.membership(ctx, userID, locationID)
	if err != nil {
		return domain.ViewerScope{}, err
	}
	return domain.ViewerScope{UserID: userID, Role: m.Role}, nil
}

func redact(r *capacity.Result, v domain.ViewerScope) *capacity.Result {
	if v.CanSeeOthers() {
		return r
	}
	return r.Redact(v.UserID)
}

// Capacity 返回时间段的席位划分。缓存中保存完整结果，普通员工读取时再隐去他人信息
func (s *Scheduler) Capacity(ctx context.Context, viewerID, timeSlotID int64) (*capacity.Result, error) {
	slot, err := s.store.GetTimeSlotByID(ctx, timeSlotID)
	if err != nil {
		return nil, err
	}
	v, err := s.viewer(ctx, viewerID, slot.LocationID)
	if err != nil {
		return nil, err
	}

	key := cache.Key{
		Kind:  cache.KindCapacity,
		Scope: "slot",
		Range: strconv.FormatInt(timeSlotID, 10),
		Tags:  []string{cache.TagSlot(timeSlotID)},
	}
	res, err := cache.Fetch(ctx, s.cache, key, func(ctx context.Context) (*capacity.Result, error) {
		slot, err := s.store.GetTimeSlotByID(ctx, timeSlotID)
		if err != nil {
			return nil, err
		}
		bookings, err := s.store.ListActiveBookingsForSlot(ctx, timeSlotID)
		if err != nil {
			return nil, err
		}
		return s.resolve(slot, bookings), nil
	})
	if err != nil {
		return nil, err
	}

	return redact(res, v), nil
}

// CapacityAt 回看时间段在 asOf 时刻的席位划分。历史视图不经过缓存
func (s *Scheduler) CapacityAt(ctx context.Context, viewerID, timeSlotID int64, asOf time.Time) (*capacity.Result, error) {
	slot, err := s.store.GetTimeSlotByID(ctx, timeSlotID)
	if err != nil {
		return nil, err
	}
	v, err := s.viewer(ctx, viewerID, slot.LocationID)
	if err != nil {
		return nil, err
	}
	bookings, err := s.store.ListBookingsForSlot(ctx, timeSlotID)
	if err != nil {
		return nil, err
	}

	return redact(capacity.ResolveAt(slot, bookings, asOf), v), nil
}

func (s *Scheduler) resolve(slot *domain.TimeSlot, bookings []*domain.Booking) *capacity.Result {
	res := capacity.Resolve(slot, bookings)
	if len(res.Overflow) > 0 {
		s.logger.Error("时间段预约数量超过席位上限", "time_slot_id", slot.ID, "overflow", len(res.Overflow))
	}
	return res
}

// ListTimeSlots 返回地点在日期范围内的全部时间段
func (s *Scheduler) ListTimeSlots(ctx context.Context, viewerID, locationID int64, from, to string) ([]*domain.TimeSlot, error) {
	loc, err := s.store.GetLocationByID(ctx, locationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.viewer(ctx, viewerID, locationID); err != nil {
		return nil, err
	}
	start, end, err := s.dateRange(from, to, loc.TimeLocation())
	if err != nil {
		return nil, err
	}

	key := cache.Key{
		Kind:  cache.KindSlots,
		Scope: fmt.Sprintf("loc:%d", locationID),
		Range: from + ".." + to,
		Tags:  cache.DateTags(locationID, start, end),
	}
	return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]*domain.TimeSlot, error) {
		return s.store.ListTimeSlots(ctx, locationID, from, to)
	})
}

type ShiftScope string

const (
	ShiftScopeWorker   ShiftScope = "worker"
	ShiftScopeLocation ShiftScope = "location"
)

type ShiftQuery struct {
	Scope      ShiftScope
	LocationID int64
	From       string
	To         string
}

// ListShifts 按员工本人或者按地点列出班次，按地点查询需要负责人或管理员权限
func (s *Scheduler) ListShifts(ctx context.Context, viewerID int64, q ShiftQuery) ([]*domain.ShiftInstance, error) {
	switch q.Scope {
	case ShiftScopeWorker:
		start, end, err := s.dateRange(q.From, q.To, s.opts.Location)
		if err != nil {
			return nil, err
		}
		key := cache.Key{
			Kind:  cache.KindShifts,
			Scope: "worker:" + strconv.FormatInt(viewerID, 10),
			Range: q.From + ".." + q.To,
			Tags:  []string{cache.TagWorker(viewerID)},
		}
		return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]*domain.ShiftInstance, error) {
			return s.store.ListShiftsForWorker(ctx, viewerID, start, end.AddDate(0, 0, 1))
		})

	case ShiftScopeLocation:
		loc, err := s.store.GetLocationByID(ctx, q.LocationID)
		if err != nil {
			return nil, err
		}
		if _, err := s.requireManager(ctx, viewerID, q.LocationID); err != nil {
			return nil, err
		}
		start, end, err := s.dateRange(q.From, q.To, loc.TimeLocation())
		if err != nil {
			return nil, err
		}
		key := cache.Key{
			Kind:  cache.KindShifts,
			Scope: fmt.Sprintf("loc:%d", q.LocationID),
			Range: q.From + ".." + q.To,
			Tags:  cache.DateTags(q.LocationID, start, end),
		}
		return cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]*domain.ShiftInstance, error) {
			return s.store.ListShiftsForLocation(ctx, q.LocationID, start, end.AddDate(0, 0, 1))
		})

	default:
		return nil, domain.ErrInvalidRange
	}
}

type CalendarSlot struct {
	Slot     *domain.TimeSlot `json:"slot"`
	Capacity *capacity.Result `json:"capacity"`
}

type CalendarDay struct {
	Date  string         `json:"date"`
	Slots []CalendarSlot `json:"slots"`
}

// Calendar 返回地点在日期范围内每一天的时间段及其席位占用情况，没有时间段的日期也会出现
func (s *Scheduler) Calendar(ctx context.Context, viewerID, locationID int64, from, to string) ([]CalendarDay, error) {
	loc, err := s.store.GetLocationByID(ctx, locationID)
	if err != nil {
		return nil, err
	}
	v, err := s.viewer(ctx, viewerID, locationID)
	if err != nil {
		return nil, err
	}
	start, end, err := s.dateRange(from, to, loc.TimeLocation())
	if err != nil {
		return nil, err
	}

	key := cache.Key{
		Kind:  cache.KindCalendar,
		Scope: fmt.Sprintf("loc:%d", locationID),
		Range: from + ".." + to,
		Tags:  cache.DateTags(locationID, start, end),
	}
	days, err := cache.Fetch(ctx, s.cache, key, func(ctx context.Context) ([]CalendarDay, error) {
		slots, err := s.store.ListTimeSlots(ctx, locationID, from, to)
		if err != nil {
			return nil, err
		}
		bookings, err := s.store.ListBookingsForLocation(ctx, locationID, from, to)
		if err != nil {
			return nil, err
		}

		bySlot := make(map[int64][]*domain.Booking)
		for _, b := range bookings {
			bySlot[b.TimeSlotID] = append(bySlot[b.TimeSlotID], b)
		}
		byDate := make(map[string][]CalendarSlot)
		for _, slot := range slots {
			byDate[slot.Date] = append(byDate[slot.Date], CalendarSlot{
				Slot:     slot,
				Capacity: s.resolve(slot, bySlot[slot.ID]),
			})
		}

		var days []CalendarDay
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			date := d.Format(domain.DateLayout)
			day := CalendarDay{Date: date, Slots: byDate[date]}
			if day.Slots == nil {
				day.Slots = []CalendarSlot{}
			}
			days = append(days, day)
		}
		return days, nil
	})
	if err != nil {
		return nil, err
	}

	if v.CanSeeOthers() {
		return days, nil
	}
	out := make([]CalendarDay, len(days))
	for i, day := range days {
		slots := make([]CalendarSlot, len(day.Slots))
		for j, cs := range day.Slots {
			slots[j] = CalendarSlot{Slot: cs.Slot, Capacity: redact(cs.Capacity, v)}
		}
		out[i] = CalendarDay{Date: day.Date, Slots: slots}
	}
	return out, nil
}

// ListCancellations 列出地点的取消记录，moderation 为空时不按审核状态过滤
func (s *Scheduler) ListCancellations(ctx context.Context, viewerID, locationID int64, moderation domain.ModerationStatus) ([]*domain.CancellationRecord, error) {
	if _, err := s.requireManager(ctx, viewerID, locationID); err != nil {
		return nil, err
	}
	return s.store.ListCancellationsForLocation(ctx, locationID, moderation)
}
