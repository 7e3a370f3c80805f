package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPlanned   BookingStatus = "planned"
	BookingOpen      BookingStatus = "open"
	BookingClosed    BookingStatus = "closed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID            int64           `json:"id"`
	TimeSlotID    int64           `json:"timeSlotID"`
	LocationID    int64           `json:"locationID"`
	WorkerID      int64           `json:"workerID"`
	StartAt       time.Time       `json:"startAt"`
	EndAt         time.Time       `json:"endAt"`
	Status        BookingStatus   `json:"status"`
	CreatedBy     int64           `json:"createdBy"`
	CreatedByType ActorType       `json:"createdByType"`
	HourlyRate    decimal.Decimal `json:"hourlyRate"`
	CancelledAt   *time.Time      `json:"cancelledAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	Version       int32           `json:"-"`
}

// Active 表示该预约仍然占用席位
func (b *Booking) Active() bool {
	return b.Status != BookingCancelled
}

// ActiveAt 表示该预约在 t 时刻是否已创建且尚未取消
func (b *Booking) ActiveAt(t time.Time) bool {
	if b.CreatedAt.After(t) {
		return false
	}
	if b.Status == BookingCancelled {
		return b.CancelledAt != nil && b.CancelledAt.After(t)
	}
	return true
}

func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartAt.Before(end) && start.Before(b.EndAt)
}
