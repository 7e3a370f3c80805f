package domain

import "time"

type ShiftStatus string

const (
	ShiftOpen      ShiftStatus = "open"
	ShiftClosed    ShiftStatus = "closed"
	ShiftCancelled ShiftStatus = "cancelled"
)

type OpenReason string

const (
	OpenManual      OpenReason = "manual"
	OpenAutoChained OpenReason = "auto_chained"
	OpenSpontaneous OpenReason = "spontaneous"
)

type CloseReason string

const (
	CloseManual      CloseReason = "manual"
	CloseAutoTimeout CloseReason = "auto_timeout"
	CloseAutoChained CloseReason = "auto_chained"
	CloseCancelled   CloseReason = "cancelled"
)

type Coordinates struct {
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

type ShiftInstance struct {
	ID               int64        `json:"id"`
	BookingID        *int64       `json:"bookingID"` // 临时开班时为空
	WorkerID         int64        `json:"workerID"`
	LocationID       int64        `json:"locationID"`
	Status           ShiftStatus  `json:"status"`
	PlannedStartAt   *time.Time   `json:"plannedStartAt"`
	ActualStartAt    time.Time    `json:"actualStartAt"`
	ClosedAt         *time.Time   `json:"closedAt"`
	StartCoordinates *Coordinates `json:"startCoordinates"`
	CloseCoordinates *Coordinates `json:"closeCoordinates"`
	OpenReason       OpenReason   `json:"openReason"`
	CloseReason      *CloseReason `json:"closeReason"`
	ClosedBy         *int64       `json:"closedBy"`
	CreatedAt        time.Time    `json:"createdAt"`
	Version          int32        `json:"-"`
}

func (s *ShiftInstance) IsOpen() bool {
	return s.Status == ShiftOpen
}
