package domain

import "time"

type EventType string

const (
	EventBookingAllocated      EventType = "BookingAllocated"
	EventShiftOpened           EventType = "ShiftOpened"
	EventShiftClosed           EventType = "ShiftClosed"
	EventCancellationRecorded  EventType = "CancellationRecorded"
	EventCancellationModerated EventType = "CancellationModerated"
)

type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type BookingAllocatedPayload struct {
	Booking *Booking `json:"booking"`
}

type ShiftOpenedPayload struct {
	Shift *ShiftInstance `json:"shift"`
}

type ShiftClosedPayload struct {
	Shift *ShiftInstance `json:"shift"`
}

type CancellationPayload struct {
	Cancellation *CancellationRecord `json:"cancellation"`
}

func NewEvent(t EventType, at time.Time, payload any) Event {
	return Event{Type: t, OccurredAt: at, Payload: payload}
}
