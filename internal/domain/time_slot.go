package domain

import "time"

const DateLayout = "2006-01-02"

type TimeSlot struct {
	ID                  int64      `json:"id"`
	LocationID          int64      `json:"locationID"`
	SeriesID            *string    `json:"seriesID"` // 由重复规则批量生成的时间段共享同一个 SeriesID
	Date                string     `json:"date"`
	StartAt             time.Time  `json:"startAt"`
	EndAt               time.Time  `json:"endAt"`
	MaxEmployees        int32      `json:"maxEmployees"`
	LatePenaltyDisabled bool       `json:"latePenaltyDisabled"`
	DeletedAt           *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	Version             int32      `json:"-"`
}

func (s *TimeSlot) IsDeleted() bool {
	return s.DeletedAt != nil
}

// Contains 判断 [start, end) 是否完全落在时间段内
func (s *TimeSlot) Contains(start, end time.Time) bool {
	return !start.Before(s.StartAt) && !end.After(s.EndAt)
}
