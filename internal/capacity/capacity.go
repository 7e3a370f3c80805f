// Package capacity 计算时间段内每个席位（track）的占用与空闲区间。
//
// 计算是纯函数，不做任何 IO：预约按开始时间排序后，依次放入第一个
// 尚未与之重叠的席位（区间图的贪心着色），着色数上限为 MaxEmployees。
package capacity

import (
	"sort"
	"time"

	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

type Segment struct {
	StartAt   time.Time `json:"startAt"`
	EndAt     time.Time `json:"endAt"`
	Occupied  bool      `json:"occupied"`
	BookingID int64     `json:"bookingID,omitempty"`
	WorkerID  int64     `json:"workerID,omitempty"`
}

func (s Segment) Covers(start, end time.Time) bool {
	return !s.Occupied && !start.Before(s.StartAt) && !end.After(s.EndAt)
}

type Track struct {
	Index    int       `json:"index"`
	Segments []Segment `json:"segments"`
}

type Result struct {
	TimeSlotID int64   `json:"timeSlotID"`
	Tracks     []Track `json:"tracks"`
	// 无法放入任何席位的预约，正常情况下不应出现
	Overflow []*domain.Booking `json:"-"`
}

// Resolve 返回时间段的席位划分，席位数量恒等于 MaxEmployees
func Resolve(slot *domain.TimeSlot, bookings []*domain.Booking) *Result {
	return resolve(slot, bookings, (*domain.Booking).Active)
}

// ResolveAt 按 asOf 时刻的预约状态计算席位划分：之后创建的预约不计入，
// 之后才取消的预约仍然占位
func ResolveAt(slot *domain.TimeSlot, bookings []*domain.Booking, asOf time.Time) *Result {
	return resolve(slot, bookings, func(b *domain.Booking) bool { return b.ActiveAt(asOf) })
}

func resolve(slot *domain.TimeSlot, bookings []*domain.Booking, keep func(b *domain.Booking) bool) *Result {
	n := int(slot.MaxEmployees)
	if n < 1 {
		n = 1
	}

	active := make([]*domain.Booking, 0, len(bookings))
	for _, b := range bookings {
		if b.TimeSlotID != slot.ID || !keep(b) {
			continue
		}
		active = append(active, b)
	}
	sortBookings(active)

	assigned := make([][]*domain.Booking, n)
	res := &Result{TimeSlotID: slot.ID, Tracks: make([]Track, n)}

	for _, b := range active {
		placed := false
		for i := 0; i < n; i++ {
			last := len(assigned[i]) - 1
			if last >= 0 && assigned[i][last].EndAt.After(b.StartAt) {
				continue
			}
			assigned[i] = append(assigned[i], b)
			placed = true
			break
		}
		if !placed {
			res.Overflow = append(res.Overflow, b)
		}
	}

	for i := 0; i < n; i++ {
		res.Tracks[i] = Track{Index: i, Segments: buildSegments(slot, assigned[i])}
	}

	return res
}

func sortBookings(bookings []*domain.Booking) {
	sort.SliceStable(bookings, func(i, j int) bool {
		if !bookings[i].StartAt.Equal(bookings[j].StartAt) {
			return bookings[i].StartAt.Before(bookings[j].StartAt)
		}
		if !bookings[i].EndAt.Equal(bookings[j].EndAt) {
			return bookings[i].EndAt.Before(bookings[j].EndAt)
		}
		return bookings[i].ID < bookings[j].ID
	})
}

func buildSegments(slot *domain.TimeSlot, bookings []*domain.Booking) []Segment {
	segments := make([]Segment, 0, len(bookings)*2+1)
	cursor := slot.StartAt

	for _, b := range bookings {
		start := maxTime(b.StartAt, slot.StartAt)
		end := minTime(b.EndAt, slot.EndAt)
		if start.After(cursor) {
			segments = append(segments, Segment{StartAt: cursor, EndAt: start})
		}
		if end.After(start) {
			segments = append(segments, Segment{
				StartAt:   start,
				EndAt:     end,
				Occupied:  true,
				BookingID: b.ID,
				WorkerID:  b.WorkerID,
			})
		}
		if end.After(cursor) {
			cursor = end
		}
	}

	if slot.EndAt.After(cursor) {
		segments = append(segments, Segment{StartAt: cursor, EndAt: slot.EndAt})
	}

	return segments
}

// FindTrack 返回能完整容纳 [start, end) 的编号最小的席位
func (r *Result) FindTrack(start, end time.Time) (int, bool) {
	for _, track := range r.Tracks {
		for _, seg := range track.Segments {
			if seg.Covers(start, end) {
				return track.Index, true
			}
		}
	}
	return -1, false
}

// FreeSeats 返回在整个时间段内完全空闲的席位数量
func (r *Result) FreeSeats() int {
	cnt := 0
	for _, track := range r.Tracks {
		if len(track.Segments) == 1 && !track.Segments[0].Occupied {
			cnt++
		}
	}
	return cnt
}

// Redact 隐去非本人预约的员工信息，供普通员工视角使用
func (r *Result) Redact(viewerID int64) *Result {
	out := &Result{TimeSlotID: r.TimeSlotID, Tracks: make([]Track, len(r.Tracks))}
	for i, track := range r.Tracks {
		segs := make([]Segment, len(track.Segments))
		for j, seg := range track.Segments {
			if seg.Occupied && seg.WorkerID != viewerID {
				seg.BookingID = 0
				seg.WorkerID = 0
			}
			segs[j] = seg
		}
		out.Tracks[i] = Track{Index: track.Index, Segments: segs}
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
