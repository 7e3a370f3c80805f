package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/domain"
)

var (
	day      = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	location = &domain.Location{ID: 3, Name: "图书馆", Timezone: "UTC"}
	coords   = &domain.Coordinates{Latitude: 23.1, Longitude: 113.3}
)

func at(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func slot(id int64, from, to time.Time) *domain.TimeSlot {
	return &domain.TimeSlot{ID: id, LocationID: location.ID, Date: from.Format(domain.DateLayout), StartAt: from, EndAt: to, MaxEmployees: 1}
}

type fixture struct {
	open    []OpenShift
	planned []PlannedBooking
	nextID  int64
}

func (f *fixture) addOpen(instID int64, workerID int64, s *domain.TimeSlot) {
	bookingID := instID * 10
	b := &domain.Booking{ID: bookingID, TimeSlotID: s.ID, LocationID: location.ID, WorkerID: workerID, StartAt: s.StartAt, EndAt: s.EndAt, Status: domain.BookingOpen}
	f.open = append(f.open, OpenShift{
		Instance: &domain.ShiftInstance{ID: instID, BookingID: &bookingID, WorkerID: workerID, LocationID: location.ID, Status: domain.ShiftOpen, ActualStartAt: s.StartAt, StartCoordinates: coords},
		Booking:  b,
		Slot:     s,
		Location: location,
	})
}

func (f *fixture) addPlanned(bookingID, workerID int64, s *domain.TimeSlot) {
	f.planned = append(f.planned, PlannedBooking{
		Booking:  &domain.Booking{ID: bookingID, TimeSlotID: s.ID, LocationID: s.LocationID, WorkerID: workerID, StartAt: s.StartAt, EndAt: s.EndAt, Status: domain.BookingPlanned},
		Slot:     s,
		Location: location,
	})
}

// apply 模拟把动作落库后的状态
func (f *fixture) apply(actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionClose:
			for _, s := range f.open {
				if (a.InstanceID != 0 && s.Instance.ID == a.InstanceID) ||
					(a.InstanceID == 0 && s.Instance.BookingID != nil && *s.Instance.BookingID == *a.BookingID) {
					s.Instance.Status = domain.ShiftClosed
				}
			}
		case ActionChainOpen:
			for _, p := range f.planned {
				if p.Booking.ID != *a.BookingID {
					continue
				}
				p.Booking.Status = domain.BookingOpen
				f.nextID++
				bookingID := p.Booking.ID
				f.open = append(f.open, OpenShift{
					Instance: &domain.ShiftInstance{ID: 1000 + f.nextID, BookingID: &bookingID, WorkerID: a.WorkerID, LocationID: a.LocationID, Status: domain.ShiftOpen, ActualStartAt: a.At, StartCoordinates: a.Coordinates},
					Booking:  p.Booking,
					Slot:     p.Slot,
					Location: location,
				})
			}
		}
	}
}

func TestReconcilePass_NothingDue(t *testing.T) {
	f := &fixture{}
	f.addOpen(1, 100, slot(1, at(9, 0), at(13, 0)))

	require.Empty(t, ReconcilePass(at(12, 59), f.open, f.planned, Options{}))
	require.Empty(t, ReconcilePass(at(12, 0), nil, nil, Options{}))
}

func TestReconcilePass_ClosesAndChains(t *testing.T) {
	f := &fixture{}
	f.addOpen(1, 100, slot(1, at(9, 0), at(13, 0)))
	f.addPlanned(20, 100, slot(2, at(13, 0), at(17, 0)))
	now := at(13, 5)

	actions := ReconcilePass(now, f.open, f.planned, Options{})

	require.Len(t, actions, 2)
	closeAction, openAction := actions[0], actions[1]
	require.Equal(t, ActionClose, closeAction.Kind)
	require.Equal(t, int64(1), closeAction.InstanceID)
	require.Equal(t, domain.CloseAutoTimeout, closeAction.CloseReason)
	require.True(t, closeAction.EffectiveEndAt.Equal(at(13, 0)))

	require.Equal(t, ActionChainOpen, openAction.Kind)
	require.Equal(t, int64(20), *openAction.BookingID)
	require.Equal(t, domain.OpenAutoChained, openAction.OpenReason)
	require.True(t, openAction.At.Equal(now))
	require.True(t, openAction.PlannedStartAt.Equal(at(13, 0)))
	require.Equal(t, coords, openAction.Coordinates)
	require.Equal(t, closeAction.Chain, openAction.Chain)
}

func TestReconcilePass_Idempotent(t *testing.T) {
	f := &fixture{}
	f.addOpen(1, 100, slot(1, at(9, 0), at(13, 0)))
	f.addOpen(2, 200, slot(3, at(8, 0), at(12, 0)))
	f.addPlanned(20, 100, slot(2, at(13, 0), at(17, 0)))
	now := at(13, 5)

	first := ReconcilePass(now, f.open, f.planned, Options{})
	require.Len(t, first, 3)
	require.Equal(t, first, ReconcilePass(now, f.open, f.planned, Options{}))

	f.apply(first)
	require.Empty(t, ReconcilePass(now, f.open, f.planned, Options{}))
}

func TestReconcilePass_FollowsChainsTransitively(t *testing.T) {
	f := &fixture{}
	f.addOpen(1, 100, slot(1, at(9, 0), at(13, 0)))
	f.addPlanned(20, 100, slot(2, at(13, 0), at(17, 0)))
	f.addPlanned(30, 100, slot(4, at(17, 0), at(21, 0)))
	now := at(17, 30)

	actions := ReconcilePass(now, f.open, f.planned, Options{})

	kinds := make([]ActionKind, 0, len(actions))
	for _, a := range actions {
		kinds = append(kinds, a.Kind)
	}
	require.Equal(t, []ActionKind{ActionClose, ActionChainOpen, ActionClose, ActionChainOpen}, kinds)
	require.Equal(t, int64(0), actions[2].InstanceID)
	require.Equal(t, int64(20), *actions[2].BookingID)
	require.Equal(t, int64(30), *actions[3].BookingID)

	f.apply(actions)
	require.Empty(t, ReconcilePass(now, f.open, f.planned, Options{}))
}

func TestReconcilePass_ChainRequiresExactBoundary(t *testing.T) {
	f := &fixture{}
	f.addOpen(1, 100, slot(1, at(9, 0), at(13, 0)))
	f.addPlanned(20, 100, slot(2, at(13, 1), at(17, 0)))

	actions := ReconcilePass(at(13, 5), f.open, f.planned, Options{})
	require.Len(t, actions, 1)
	require.Equal(t, ActionClose, actions[0].Kind)

	actions = ReconcilePass(at(13, 5), f.open, f.planned, Options{ChainTolerance: time.Minute})
	require.Len(t, actions, 2)
	require.Equal(t, ActionChainOpen, actions[1].Kind)
}

func TestReconcilePass_ChainIgnoresOtherWorkersDaysAndLocations(t *testing.T) {
	f := &fixture{}
	f.addOpen(1, 100, slot(1, at(9, 0), at(13, 0)))
	f.addPlanned(20, 200, slot(2, at(13, 0), at(17, 0)))

	other := slot(5, at(13, 0), at(17, 0))
	other.LocationID = 99
	f.addPlanned(21, 100, other)

	tomorrow := slot(6, at(13, 0), at(17, 0))
	tomorrow.Date = day.AddDate(0, 0, 1).Format(domain.DateLayout)
	f.addPlanned(22, 100, tomorrow)

	actions := ReconcilePass(at(13, 5), f.open, f.planned, Options{})

	require.Len(t, actions, 1)
	require.Equal(t, ActionClose, actions[0].Kind)
}

func TestEffectiveEnd_Fallbacks(t *testing.T) {
	closing := "22:00:00"
	maxOpen := 6 * time.Hour

	spontaneous := func(loc *domain.Location) OpenShift {
		return OpenShift{
			Instance: &domain.ShiftInstance{ID: 7, WorkerID: 100, LocationID: loc.ID, Status: domain.ShiftOpen, ActualStartAt: at(18, 0)},
			Location: loc,
		}
	}

	withClosing := &domain.Location{ID: 3, Timezone: "UTC", DefaultClosingTime: &closing, MaxOpenDuration: &maxOpen}
	end, ok := EffectiveEnd(spontaneous(withClosing))
	require.True(t, ok)
	require.True(t, end.Equal(at(22, 0)))

	withMaxOpen := &domain.Location{ID: 3, Timezone: "UTC", MaxOpenDuration: &maxOpen}
	end, ok = EffectiveEnd(spontaneous(withMaxOpen))
	require.True(t, ok)
	require.True(t, end.Equal(day.Add(24*time.Hour)))

	_, ok = EffectiveEnd(spontaneous(&domain.Location{ID: 3, Timezone: "UTC"}))
	require.False(t, ok)

	require.Empty(t, ReconcilePass(at(23, 0), []OpenShift{spontaneous(&domain.Location{ID: 3})}, nil, Options{}))
	require.Len(t, ReconcilePass(at(22, 1), []OpenShift{spontaneous(withClosing)}, nil, Options{}), 1)
}

func TestEffectiveEnd_StartedAfterClosingUsesMaxOpen(t *testing.T) {
	closing := "06:00:00"
	maxOpen := 2 * time.Hour
	loc := &domain.Location{ID: 3, Timezone: "UTC", DefaultClosingTime: &closing, MaxOpenDuration: &maxOpen}

	end, ok := EffectiveEnd(OpenShift{
		Instance: &domain.ShiftInstance{ActualStartAt: at(8, 0), Status: domain.ShiftOpen},
		Location: loc,
	})

	require.True(t, ok)
	require.True(t, end.Equal(at(10, 0)))
}
