// Package reconciler 实现无人值守的班次对账：结束超时的班次，并在相邻预约首尾相接时自动续班
package reconciler

import (
	"sort"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

type ActionKind string

const (
	ActionClose     ActionKind = "close"
	ActionChainOpen ActionKind = "chain_open"
)

// Action 是一次对账得出的待执行操作。
// 关闭由本轮续班产生、尚未落库的班次时 InstanceID 为 0，此时用 BookingID 定位
type Action struct {
	Kind           ActionKind
	Chain          int // 同一条续班链上的动作共享 Chain，前一个失败时后续动作跳过
	InstanceID     int64
	BookingID      *int64
	WorkerID       int64
	LocationID     int64
	At             time.Time
	EffectiveEndAt time.Time
	CloseReason    domain.CloseReason
	OpenReason     domain.OpenReason
	PlannedStartAt time.Time
	Coordinates    *domain.Coordinates
}

// OpenShift 是一个处于 open 状态的班次及其关联数据，临时班次的 Booking 与 Slot 为空
type OpenShift struct {
	Instance *domain.ShiftInstance
	Booking  *domain.Booking
	Slot     *domain.TimeSlot
	Location *domain.Location
}

type PlannedBooking struct {
	Booking  *domain.Booking
	Slot     *domain.TimeSlot
	Location *domain.Location
}

type Options struct {
	// 续班时允许的首尾时间误差，0 表示必须严格相等
	ChainTolerance time.Duration
}

// EffectiveEnd 按优先级确定班次的有效结束时间：
// 预约所在时间段的结束时间、地点默认关门时间、实际开始时间加上地点配置的最长在岗时长。
// 三者都没有时返回 false，班次不会被自动结束
func EffectiveEnd(s OpenShift) (time.Time, bool) {
	if s.Slot != nil {
		return s.Slot.EndAt, true
	}
	if s.Location == nil {
		return time.Time{}, false
	}
	date := s.Instance.ActualStartAt.In(s.Location.TimeLocation()).Format(domain.DateLayout)
	if t, ok := s.Location.ClosingTimeOn(date); ok && t.After(s.Instance.ActualStartAt) {
		return t, true
	}
	if s.Location.MaxOpenDuration != nil && *s.Location.MaxOpenDuration > 0 {
		return s.Instance.ActualStartAt.Add(*s.Location.MaxOpenDuration), true
	}
	return time.Time{}, false
}

type due struct {
	shift OpenShift
	end   time.Time
}

// ReconcilePass 是一次对账的纯函数版本，不做任何读写。
// 对同一输入重复执行会得到相同的结果；把结果落库后立即再执行一次，结果为空
func ReconcilePass(now time.Time, open []OpenShift, planned []PlannedBooking, opts Options) []Action {
	var dues []due
	for _, s := range open {
		if s.Instance == nil || !s.Instance.IsOpen() {
			continue
		}
		end, ok := EffectiveEnd(s)
		if !ok || end.After(now) {
			continue
		}
		dues = append(dues, due{shift: s, end: end})
	}
	sort.Slice(dues, func(i, j int) bool {
		if !dues[i].end.Equal(dues[j].end) {
			return dues[i].end.Before(dues[j].end)
		}
		return dues[i].shift.Instance.ID < dues[j].shift.Instance.ID
	})

	candidates := make([]PlannedBooking, 0, len(planned))
	for _, p := range planned {
		if p.Booking != nil && p.Slot != nil && p.Booking.Status == domain.BookingPlanned {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].Booking.StartAt.Equal(candidates[j].Booking.StartAt) {
			return candidates[i].Booking.StartAt.Before(candidates[j].Booking.StartAt)
		}
		return candidates[i].Booking.ID < candidates[j].Booking.ID
	})
	used := make(map[int64]bool)

	var actions []Action
	for chain, d := range dues {
		inst := d.shift.Instance
		actions = append(actions, Action{
			Kind:           ActionClose,
			Chain:          chain,
			InstanceID:     inst.ID,
			BookingID:      inst.BookingID,
			WorkerID:       inst.WorkerID,
			LocationID:     inst.LocationID,
			At:             now,
			EffectiveEndAt: d.end,
			CloseReason:    domain.CloseAutoTimeout,
			Coordinates:    inst.StartCoordinates,
		})

		// 续班后的班次如果也已经超时，则在同一轮里继续处理，保证对账幂等
		workerID, locationID, end, coords := inst.WorkerID, inst.LocationID, d.end, inst.StartCoordinates
		for {
			next := findNext(now, candidates, used, workerID, locationID, end, opts.ChainTolerance)
			if next == nil {
				break
			}
			used[next.Booking.ID] = true

			bookingID := next.Booking.ID
			actions = append(actions, Action{
				Kind:           ActionChainOpen,
				Chain:          chain,
				BookingID:      &bookingID,
				WorkerID:       workerID,
				LocationID:     locationID,
				At:             now,
				OpenReason:     domain.OpenAutoChained,
				PlannedStartAt: next.Booking.StartAt,
				Coordinates:    coords,
			})

			end = next.Slot.EndAt
			if end.After(now) {
				break
			}
			actions = append(actions, Action{
				Kind:           ActionClose,
				Chain:          chain,
				BookingID:      &bookingID,
				WorkerID:       workerID,
				LocationID:     locationID,
				At:             now,
				EffectiveEndAt: end,
				CloseReason:    domain.CloseAutoTimeout,
				Coordinates:    coords,
			})
		}
	}

	return actions
}

// findNext 找到同一员工在同一地点、当天（按地点时区）开始时间恰好接上 end 的 planned 预约
func findNext(now time.Time, candidates []PlannedBooking, used map[int64]bool, workerID, locationID int64, end time.Time, tolerance time.Duration) *PlannedBooking {
	for i := range candidates {
		c := &candidates[i]
		b := c.Booking
		if used[b.ID] || b.WorkerID != workerID || b.LocationID != locationID {
			continue
		}
		today := now.In(c.Location.TimeLocation()).Format(domain.DateLayout)
		if c.Slot.Date != today {
			continue
		}
		diff := b.StartAt.Sub(end)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance {
			return c
		}
	}
	return nil
}
